package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const writerQueueSize = 256

type writeOp struct {
	conversationID string
	msg            *StoredMessage
	title          string
}

// Writer serializes history appends through a single background goroutine
// so the session loop never blocks on the database.
type Writer struct {
	store HistoryStore
	queue chan writeOp
	done  chan struct{}
	once  sync.Once
}

func NewWriter(store HistoryStore) *Writer {
	return &Writer{
		store: store,
		queue: make(chan writeOp, writerQueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the write loop.
func (w *Writer) Start() {
	go w.loop()
	slog.Info("history writer started")
}

// Stop drains pending writes and stops the loop.
func (w *Writer) Stop() {
	w.once.Do(func() { close(w.queue) })
	<-w.done
	slog.Info("history writer stopped")
}

func (w *Writer) loop() {
	defer close(w.done)
	for op := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		switch {
		case op.msg != nil:
			err = w.store.AddMessage(ctx, op.conversationID, *op.msg)
		case op.title != "":
			err = w.store.UpdateTitle(ctx, op.conversationID, op.title)
		}
		cancel()
		if err != nil {
			slog.Error("history write failed", "conversation", op.conversationID, "error", err)
		}
	}
}

func (w *Writer) enqueue(op writeOp) {
	select {
	case w.queue <- op:
	default:
		slog.Warn("history writer queue full, dropping write", "conversation", op.conversationID)
	}
}

// RecordMessage enqueues one message append.
func (w *Writer) RecordMessage(conversationID, role, content string, thoughts []string) {
	w.enqueue(writeOp{
		conversationID: conversationID,
		msg: &StoredMessage{
			Role:      role,
			Content:   content,
			CreatedAt: time.Now().UTC(),
			Thoughts:  thoughts,
		},
	})
}

// RecordTitle enqueues a title update.
func (w *Writer) RecordTitle(conversationID, title string) {
	w.enqueue(writeOp{conversationID: conversationID, title: title})
}
