// internal/session/transfer.go
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
	"serial-debugger/internal/utils"
)

// maxRetainedTransfers bounds how many finished transfers status keeps
const maxRetainedTransfers = 16

// Transfer is a chunked send of a byte stream with progress and cancellation
type Transfer struct {
	id        string
	name      string
	total     int64
	startedAt time.Time

	sent atomic.Int64

	mutex sync.Mutex
	state model.TransferState
	err   error

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

func newTransfer(name string, total int64) *Transfer {
	return &Transfer{
		id:        uuid.New().String(),
		name:      name,
		total:     total,
		startedAt: time.Now(),
		state:     model.TransferStateRunning,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the transfer identifier
func (t *Transfer) ID() string { return t.id }

// Cancel asks the transfer to stop before its next chunk
func (t *Transfer) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Done is closed when the transfer finished, failed or was cancelled
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Wait blocks until the transfer ends and returns its error, if any
func (t *Transfer) Wait(ctx context.Context) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.err
}

// Progress returns a snapshot of the transfer
func (t *Transfer) Progress() model.TransferProgress {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	p := model.TransferProgress{
		ID:         t.id,
		Name:       t.name,
		BytesSent:  t.sent.Load(),
		TotalBytes: t.total,
		State:      t.state,
		StartedAt:  t.startedAt,
	}
	if t.err != nil {
		p.Error = t.err.Error()
	}
	return p
}

func (t *Transfer) finish(state model.TransferState, err error) {
	t.mutex.Lock()
	t.state = state
	t.err = err
	t.mutex.Unlock()
	close(t.done)
}

func (t *Transfer) cancelled() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

// SendFile streams src to the port in chunks of chunkSize bytes. total is
// used for progress reporting and may be zero or negative when unknown.
func (s *Session) SendFile(name string, src io.Reader, total int64, chunkSize int) (*Transfer, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = s.opts.ChunkSize
	}

	t := newTransfer(name, total)
	s.trackTransfer(t)

	go s.runTransfer(t, src, chunkSize)
	return t, nil
}

func (s *Session) runTransfer(t *Transfer, src io.Reader, chunkSize int) {
	op := utils.NewOperationLogger(s.logger.Logger, "file_transfer", t.id)
	op.Start(
		zap.String("name", t.name),
		zap.Int64("total_bytes", t.total),
		zap.Int("chunk_size", chunkSize),
	)

	abort := func(state model.TransferState, cause error) {
		err := &TransferError{TransferID: t.id, Sent: t.sent.Load(), Total: t.total, Err: cause}
		t.finish(state, err)
		s.publishTransfer(t)
		if state == model.TransferStateCancelled {
			op.Progress("Transfer cancelled", t.Progress().Percent(), zap.Int64("bytes_sent", t.sent.Load()))
			return
		}
		op.Error(err, zap.Int64("bytes_sent", t.sent.Load()))
	}

	buf := make([]byte, chunkSize)
	lastDecile := -1
	for {
		if t.cancelled() {
			abort(model.TransferStateCancelled, ErrTransferCancelled)
			return
		}
		select {
		case <-s.ctx.Done():
			abort(model.TransferStateCancelled, ErrSessionClosed)
			return
		default:
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			res, err := s.Send(s.ctx, SendRequest{Mode: codec.ModeRaw, Payload: buf[:n]})
			if res != nil {
				t.sent.Add(int64(res.BytesWritten))
			}
			if errors.Is(err, ErrSessionClosed) {
				abort(model.TransferStateCancelled, err)
				return
			}
			if err != nil {
				abort(model.TransferStateFailed, err)
				return
			}
			s.publishTransfer(t)

			if p := t.Progress().Percent(); p >= 0 && int(p/10) > lastDecile {
				lastDecile = int(p / 10)
				op.Progress("Transfer progress", p, zap.Int64("bytes_sent", t.sent.Load()))
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			t.finish(model.TransferStateCompleted, nil)
			s.publishTransfer(t)
			op.Success(zap.Int64("bytes_sent", t.sent.Load()))
			return
		}
		if readErr != nil {
			abort(model.TransferStateFailed, readErr)
			return
		}
	}
}

func (s *Session) publishTransfer(t *Transfer) {
	p := t.Progress()
	s.registry.Publish(&Event{
		Kind:      EventTransfer,
		SessionID: s.id,
		Timestamp: time.Now(),
		Transfer:  &p,
	})
}

func (s *Session) trackTransfer(t *Transfer) {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()

	s.transfers[t.id] = t
	s.transferIDs = append(s.transferIDs, t.id)

	// forget the oldest finished transfers beyond the retention limit
	for len(s.transferIDs) > maxRetainedTransfers {
		pruned := false
		for i, id := range s.transferIDs {
			old := s.transfers[id]
			if old.Progress().State != model.TransferStateRunning {
				delete(s.transfers, id)
				s.transferIDs = append(s.transferIDs[:i], s.transferIDs[i+1:]...)
				pruned = true
				break
			}
		}
		if !pruned {
			break
		}
	}
}

// Transfer returns a transfer started on this session
func (s *Session) Transfer(id string) (*Transfer, error) {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return t, nil
}

// TransferStatus returns progress snapshots in start order
func (s *Session) TransferStatus() []model.TransferProgress {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()

	out := make([]model.TransferProgress, 0, len(s.transferIDs))
	for _, id := range s.transferIDs {
		out = append(out, s.transfers[id].Progress())
	}
	return out
}

func (s *Session) cancelTransfers() {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()

	for _, t := range s.transfers {
		t.Cancel()
	}
}
