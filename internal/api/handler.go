package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/nao1215/notifyhub/internal/namespace"
	"github.com/nao1215/notifyhub/internal/notify"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

const (
	msgInvalidRequest = "Invalid request parameters"
	msgSendFailed     = "Failed to send notification"
	msgSent           = "Notification sent successfully"
	msgBatchProcessed = "Batch notification processed"
	// maxAppIDLength はアプリケーションIDの最大長。
	maxAppIDLength = 100
)

// notifyRequest は通知リクエストのJSON構造。
// users / devices / eventTopics は省略可能だが、空配列は省略と同じ扱いになる。
type notifyRequest struct {
	// AppID は配信先のアプリケーションID。
	AppID string `json:"appId" binding:"required,min=1,max=100"`
	// Users は配信先のクライアントID一覧。
	Users []string `json:"users" binding:"omitempty,max=1000,dive,required"`
	// Devices は配信先のデバイスID一覧。
	Devices []string `json:"devices" binding:"omitempty,max=1000,dive,required"`
	// EventTopics は配信先のトピックキー一覧。
	EventTopics []string `json:"eventTopics" binding:"omitempty,max=100,dive,required"`
	// EventName はクライアントに送るイベント名。
	EventName string `json:"eventName" binding:"max=100"`
	// Data は配信するペイロード。
	Data map[string]any `json:"data"`
}

func (r notifyRequest) toNotify() notify.Request {
	return notify.Request{
		AppID:       r.AppID,
		Users:       r.Users,
		Devices:     r.Devices,
		EventTopics: r.EventTopics,
		EventName:   r.EventName,
		Data:        r.Data,
	}
}

// batchRequest は一括通知リクエストのJSON構造。
// 各要素は個別に検証するため、ここでは生のJSONのまま受け取る。
type batchRequest struct {
	Notifications []json.RawMessage `json:"notifications" binding:"required,min=1,max=100"`
}

// batchItemResponse は一括通知の1件分の結果。
type batchItemResponse struct {
	Index   int            `json:"index"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Details []fieldError   `json:"details,omitempty"`
	Targets *notify.Result `json:"targets,omitempty"`
}

// batchResponse は一括通知のレスポンス。
type batchResponse struct {
	Message   string              `json:"message"`
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Results   []batchItemResponse `json:"results"`
}

// handleNotify は1件の通知を配信するハンドラ。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   msgInvalidRequest,
				"details": validationDetails(err),
			})
			return
		}

		res, err := s.deliver(c.Request.Context(), req.toNotify())
		switch {
		case errors.Is(err, notify.ErrNoTarget):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, notify.ErrEmptyAppID):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   msgInvalidRequest,
				"details": []fieldError{{Field: "appId", Message: "is required"}},
			})
			return
		case err != nil:
			s.logger.Error().Err(err).
				Str("namespace", req.AppID).
				Str("caller", middleware.GetService(c)).
				Msg("通知の配信に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgSendFailed})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": msgSent,
			"targets": res,
		})
	}
}

// errDeliveryPanic は配信処理中のpanicを表す。
var errDeliveryPanic = errors.New("panic during delivery")

// deliver は通知を配信する。配信処理中のpanicはエラーとして返し、
// Recoveryミドルウェアまで伝播させない。
func (s *Server) deliver(ctx context.Context, req notify.Request) (res *notify.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", errDeliveryPanic, r)
		}
	}()
	return s.notifier.Deliver(ctx, req)
}

// handleBatchNotify は複数の通知を個別に検証して配信するハンドラ。
// 一部の要素が不正でも残りの要素は配信する。
func (s *Server) handleBatchNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body batchRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   msgInvalidRequest,
				"details": validationDetails(err),
			})
			return
		}

		results := make([]batchItemResponse, len(body.Notifications))
		reqs := make([]notify.Request, 0, len(body.Notifications))
		indexes := make([]int, 0, len(body.Notifications))
		for i, raw := range body.Notifications {
			results[i].Index = i
			var item notifyRequest
			err := json.Unmarshal(raw, &item)
			if err == nil {
				err = binding.Validator.ValidateStruct(&item)
			}
			if err != nil {
				results[i].Error = msgInvalidRequest
				results[i].Details = validationDetails(err)
				continue
			}
			reqs = append(reqs, item.toNotify())
			indexes = append(indexes, i)
		}

		batch := s.notifier.DeliverBatch(c.Request.Context(), reqs)
		for j, it := range batch.Items {
			r := &results[indexes[j]]
			r.Success = it.Success
			r.Error = it.Error
			r.Targets = it.Result
		}

		resp := batchResponse{
			Message: msgBatchProcessed,
			Total:   len(results),
			Results: results,
		}
		for _, r := range results {
			if r.Success {
				resp.Succeeded++
			} else {
				resp.Failed++
			}
		}
		if resp.Failed > 0 {
			s.logger.Warn().
				Int("total", resp.Total).
				Int("failed", resp.Failed).
				Str("caller", middleware.GetService(c)).
				Msg("一括通知の一部が失敗しました")
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleStats はネームスペースの接続数とルーム一覧を返すハンドラ。
// 存在しないネームスペースは作成せず、空の状態として返す。
func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.Param("appId")
		if utf8.RuneCountInString(appID) > maxAppIDLength {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   msgInvalidRequest,
				"details": []fieldError{{Field: "appId", Message: "must be at most 100 characters"}},
			})
			return
		}

		ns, ok := s.registry.Get(appID)
		if !ok {
			c.JSON(http.StatusOK, namespace.Stats{AppID: appID, Rooms: []string{}})
			return
		}
		c.JSON(http.StatusOK, ns.Stats())
	}
}
