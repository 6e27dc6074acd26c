package async

import (
	"context"
	"strconv"
	"time"
)

// Job is one inbound event bound to the requester it belongs to. Jobs
// sharing a Key run one at a time, in submission order.
type Job struct {
	Key         string
	Name        string
	Run         func(ctx context.Context) error
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// ChatKey is the job key for everything addressed to one chat.
func ChatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
