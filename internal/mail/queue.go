// Package mail は確認メール・パスワード再設定メールの非同期送信を提供します。
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/store"
)

const (
	TaskTypeVerification  = "mail:verification"
	TaskTypePasswordReset = "mail:password_reset"

	queueName = "mail"
	maxRetry  = 3
)

// Queue はメール送信の投入と状態管理を担います。
type Queue struct {
	cfg      *config.Config
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	recorder Recorder
	sender   Sender
	logger   logging.Logger
}

// TaskPayload はメール送信タスクのペイロードです。
type TaskPayload struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Message Message `json:"message"`
}

// NewQueue は Queue を初期化します。
func NewQueue(cfg *config.Config, recorder Recorder, sender Sender, logger logging.Logger) (*Queue, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if recorder == nil {
		return nil, errors.New("recorder is nil")
	}
	if sender == nil {
		return nil, errors.New("sender is nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	opt, err := asynq.ParseRedisURI(cfg.MailQueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	q := &Queue{
		cfg:      cfg,
		client:   client,
		server:   server,
		mux:      mux,
		recorder: recorder,
		sender:   sender,
		logger:   logger.With("component", "mail"),
	}
	mux.HandleFunc(TaskTypeVerification, q.handleTask)
	mux.HandleFunc(TaskTypePasswordReset, q.handleTask)
	return q, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (q *Queue) StartWorkers() {
	go func() {
		if err := q.server.Run(q.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			q.logger.Error(context.Background(), "asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.server.Shutdown()
	return q.client.Close()
}

// SendVerification はメールアドレス確認メールをキューに投入します。
func (q *Queue) SendVerification(ctx context.Context, m *store.Member, link string) error {
	_, err := q.Enqueue(ctx, KindVerification, m.ID, VerificationMessage(q.cfg.ForumTitle, m, link))
	return err
}

// SendPasswordReset はパスワード再設定メールをキューに投入します。
func (q *Queue) SendPasswordReset(ctx context.Context, m *store.Member, link string) error {
	_, err := q.Enqueue(ctx, KindPasswordReset, m.ID, PasswordResetMessage(q.cfg.ForumTitle, m, link))
	return err
}

// Enqueue は送信記録を作成してタスクを投入し、記録IDを返します。
func (q *Queue) Enqueue(ctx context.Context, kind Kind, memberID int64, msg Message) (string, error) {
	taskType, err := taskTypeOf(kind)
	if err != nil {
		return "", err
	}
	payload := &TaskPayload{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: msg,
	}

	if err := q.recorder.Upsert(ctx, &Record{
		ID:       payload.ID,
		Kind:     kind,
		MemberID: memberID,
		To:       msg.To,
		Status:   StatusQueued,
	}); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskType, body, asynq.Queue(queueName))
	if _, err := q.client.EnqueueContext(ctx, task, asynq.TaskID(payload.ID), asynq.MaxRetry(maxRetry)); err != nil {
		return "", err
	}
	q.logger.Info(ctx, "mail queued", "id", payload.ID, "kind", string(kind), "member_id", memberID)
	return payload.ID, nil
}

// GetRecord は送信記録を取得します。
func (q *Queue) GetRecord(ctx context.Context, id string) (*Record, error) {
	return q.recorder.Get(ctx, id)
}

func (q *Queue) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.ID == "" {
		return fmt.Errorf("%w: missing id in payload", asynq.SkipRetry)
	}

	if err := q.recorder.MarkSending(ctx, payload.ID); err != nil {
		// 記録が期限切れでも送信は行う
		q.logger.Warn(ctx, "failed to mark mail sending", "id", payload.ID, "error", err)
	}

	if err := q.sender.Send(ctx, payload.Message); err != nil {
		q.logger.Warn(ctx, "mail send failed", "id", payload.ID, "kind", string(payload.Kind), "error", err)
		if markErr := q.recorder.MarkFailed(ctx, payload.ID, &ErrorInfo{
			Code:    "SEND_FAILED",
			Message: err.Error(),
		}); markErr != nil {
			q.logger.Warn(ctx, "failed to mark mail failed", "id", payload.ID, "error", markErr)
		}
		return err
	}

	if err := q.recorder.MarkSent(ctx, payload.ID); err != nil {
		q.logger.Warn(ctx, "failed to mark mail sent", "id", payload.ID, "error", err)
	}
	q.logger.Info(ctx, "mail sent", "id", payload.ID, "kind", string(payload.Kind))
	return nil
}

func taskTypeOf(kind Kind) (string, error) {
	switch kind {
	case KindVerification:
		return TaskTypeVerification, nil
	case KindPasswordReset:
		return TaskTypePasswordReset, nil
	default:
		return "", fmt.Errorf("unknown mail kind %q", kind)
	}
}
