package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifyhub/internal/delivery"
	"github.com/nao1215/notifyhub/internal/namespace"
)

// TargetKind は配信先の種類を表す。
type TargetKind string

const (
	// TargetUser はクライアントIDのルーム。
	TargetUser TargetKind = "user"
	// TargetDevice はデバイスIDのルーム。
	TargetDevice TargetKind = "device"
	// TargetTopic はトピックルーム。
	TargetTopic TargetKind = "topic"
)

// TargetFailure は1配信先での失敗。
type TargetFailure struct {
	// Kind は配信先の種類。
	Kind TargetKind `json:"kind"`
	// Target はルームキー。
	Target string `json:"target"`
	// Error は失敗の内容。
	Error string `json:"error"`
}

// Result は1リクエストの処理結果。
// 件数は試行した配信先の数で、ルームが空だったかどうかには依存しない。
type Result struct {
	// Users は試行したユーザー配信先の数。
	Users int `json:"users"`
	// Devices は試行したデバイス配信先の数。
	Devices int `json:"devices"`
	// Topics は試行したトピック配信先の数。
	Topics int `json:"topics"`
	// Delivered はエラーなく完了した配信先の数。
	Delivered int `json:"delivered"`
	// Failures は失敗した配信先の一覧。
	Failures []TargetFailure `json:"failures,omitempty"`
}

// BatchItem はバッチ内の1リクエストの結果。
type BatchItem struct {
	// Index はバッチ内の位置。
	Index int `json:"index"`
	// Success はリクエストが処理されたかどうか。
	Success bool `json:"success"`
	// Error は失敗時のエラーメッセージ。
	Error string `json:"error,omitempty"`
	// Result は成功時の処理結果。
	Result *Result `json:"targets,omitempty"`
	// Err は失敗時のエラー値。
	Err error `json:"-"`
}

// BatchResult はバッチ全体の処理結果。
type BatchResult struct {
	// Succeeded は成功したリクエスト数。
	Succeeded int
	// Failed は失敗したリクエスト数。
	Failed int
	// Items はリクエストごとの結果。
	Items []BatchItem
}

// Router は通知リクエストをルームへの配信に展開する。
type Router struct {
	registry *namespace.Registry
	emitter  delivery.Emitter
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRouter は新しいRouterを生成する。
func NewRouter(registry *namespace.Registry, emitter delivery.Emitter, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		emitter:  emitter,
		logger:   logger.With().Str("component", "notify").Logger(),
		now:      time.Now,
	}
}

// target は1配信先への配信内容。
type target struct {
	kind    TargetKind
	room    string
	payload map[string]any
}

// Deliver はリクエストを検証し、すべての配信先へ並行に配信する。
// 検証エラーの場合は配信を一切行わない。個々の配信先での失敗は Result.Failures に記録し、
// エラーとしては返さない。再送やタイムアウトは行わない。
func (r *Router) Deliver(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ns := r.registry.GetOrCreate(req.AppID)
	base := buildPayload(req.Data, r.now())
	eventName := req.eventName()

	groups := [][]target{
		identityTargets(TargetUser, req.Users, base),
		identityTargets(TargetDevice, req.Devices, base),
		topicTargets(req.EventTopics, base),
	}

	var (
		mu      sync.Mutex
		result  = &Result{Users: len(req.Users), Devices: len(req.Devices), Topics: len(req.EventTopics)}
		groupWG sync.WaitGroup
	)
	for _, group := range groups {
		groupWG.Go(func() {
			var wg sync.WaitGroup
			for _, tg := range group {
				wg.Go(func() {
					err := r.emit(ctx, ns.ID(), eventName, tg)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						result.Failures = append(result.Failures, TargetFailure{
							Kind:   tg.kind,
							Target: tg.room,
							Error:  err.Error(),
						})
						return
					}
					result.Delivered++
				})
			}
			wg.Wait()
		})
	}
	groupWG.Wait()

	if len(result.Failures) > 0 {
		r.logger.Warn().
			Str("namespace", ns.ID()).
			Int("failed", len(result.Failures)).
			Int("delivered", result.Delivered).
			Msg("一部の配信先への配信に失敗しました")
	}
	r.logger.Info().
		Str("namespace", ns.ID()).
		Str("event", eventName).
		Int("users", result.Users).
		Int("devices", result.Devices).
		Int("topics", result.Topics).
		Msg("通知を配信しました")
	return result, nil
}

// DeliverBatch は各リクエストを独立に処理する。1件の失敗でバッチ全体は中断しない。
func (r *Router) DeliverBatch(ctx context.Context, reqs []Request) BatchResult {
	batch := BatchResult{Items: make([]BatchItem, len(reqs))}
	for i, req := range reqs {
		res, err := r.Deliver(ctx, req)
		if err != nil {
			batch.Items[i] = BatchItem{Index: i, Error: err.Error(), Err: err}
			batch.Failed++
			continue
		}
		batch.Items[i] = BatchItem{Index: i, Success: true, Result: res}
		batch.Succeeded++
	}
	return batch
}

// emit は1配信先へ配信する。panicも失敗として扱う。
func (r *Router) emit(ctx context.Context, namespaceID, eventName string, tg target) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := r.emitter.Emit(ctx, namespaceID, tg.room, eventName, tg.payload); err != nil {
		r.logger.Warn().Err(err).
			Str("namespace", namespaceID).
			Str("kind", string(tg.kind)).
			Str("target", tg.room).
			Msg("配信先への配信に失敗")
		return err
	}
	return nil
}

// identityTargets はユーザー・デバイス配信先を生成する。ペイロードは共有し変更しない。
func identityTargets(kind TargetKind, ids []string, base map[string]any) []target {
	targets := make([]target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, target{kind: kind, room: id, payload: base})
	}
	return targets
}

// topicTargets はトピックごとに topic フィールドを持つ複製を生成する。
func topicTargets(topics []string, base map[string]any) []target {
	targets := make([]target, 0, len(topics))
	for _, topic := range topics {
		targets = append(targets, target{kind: TargetTopic, room: topic, payload: topicPayload(base, topic)})
	}
	return targets
}
