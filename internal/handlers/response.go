// Package handlers provides the HTTP handlers of the gatekeeper: health and
// readiness probes, the administrative endpoints for policies and sessions,
// and an identity echo used as the downstream handler of the pipeline.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/constants"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, logger *logrus.Logger, data interface{}, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an AuthError-shaped JSON error.
func writeErrorResponse(w http.ResponseWriter, logger *logrus.Logger, code, message string, statusCode int) {
	writeJSONResponse(w, logger, &models.AuthError{
		Code:        code,
		Description: message,
		RequestID:   w.Header().Get(constants.HeaderXRequestID),
	}, statusCode)
}
