package processing

import (
	customlog "github.com/open-teleop/carla-driver/pkg/log"
)

// ListenerResultHandler delivers decoded images to the sensor's listener
type ListenerResultHandler struct {
	logger   customlog.Logger
	registry *SensorRegistry
}

// NewListenerResultHandler creates a new listener result handler
func NewListenerResultHandler(logger customlog.Logger, registry *SensorRegistry) *ListenerResultHandler {
	return &ListenerResultHandler{
		logger:   logger,
		registry: registry,
	}
}

// HandleResult handles a processed message result
func (h *ListenerResultHandler) HandleResult(result *ProcessResult) {
	if result.Error != nil {
		h.logger.Errorf("Error processing message for topic '%s': %v", result.Topic, result.Error)
		return
	}
	if result.Image == nil {
		return
	}

	// The sensor may have been stopped while the message was queued.
	listener, ok := h.registry.Listener(result.SensorID)
	if !ok || listener == nil {
		h.logger.Debugf("Sensor %d stopped listening, dropping frame %d", result.SensorID, result.Image.Frame)
		return
	}
	listener(result.Image)
}

// CreateHandlerFunc creates a ResultHandler function for the ProcessingPool
func (h *ListenerResultHandler) CreateHandlerFunc() ResultHandler {
	return func(processResult *ProcessResult) {
		if processResult == nil {
			h.logger.Errorf("Received nil ProcessResult")
			return
		}
		h.HandleResult(processResult)
	}
}
