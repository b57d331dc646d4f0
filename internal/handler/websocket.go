package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/stripaudio/api/internal/model"
	"github.com/stripaudio/api/internal/service"
	ws "github.com/stripaudio/api/internal/websocket"
)

type WebSocketHandler struct {
	hub  *ws.Hub
	jobs *service.JobService
}

func NewWebSocketHandler(hub *ws.Hub, jobs *service.JobService) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, jobs: jobs}
}

// Upgrade rejects plain HTTP requests on websocket routes.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Job handles GET /ws/jobs/:id
func (h *WebSocketHandler) Job() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("id")
		var initial interface{}
		if job, err := h.jobs.Snapshot(jobID); err == nil {
			initial = StateMessage(job)
		}
		h.hub.HandleConnection(c, jobID, initial)
	})
}

// StateMessage renders the current job state as the message a subscriber
// would have received for the job's latest transition.
func StateMessage(job *model.Job) interface{} {
	switch job.Status {
	case model.JobStatusCompleted:
		return model.WSCompleteMessage{
			Type:   model.WSMessageTypeComplete,
			JobID:  job.ID,
			Result: model.DownloadResultFor(job.ID, job.OutputFilename),
		}
	case model.JobStatusFailed:
		msg := ""
		if job.Error != nil {
			msg = *job.Error
		}
		return model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: job.ID,
			Error: model.WSError{Code: model.ErrorCodeTranscodeFailed, Message: msg},
		}
	default:
		return model.WSProgressMessage{
			Type:     model.WSMessageTypeProgress,
			JobID:    job.ID,
			Progress: job.Progress,
			Status:   job.Status,
		}
	}
}
