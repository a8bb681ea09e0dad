package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// IdentityResponse echoes the identity the pipeline attached to a request.
type IdentityResponse struct {
	RequestID    string              `json:"request_id"`
	UserID       string              `json:"user_id,omitempty"`
	Email        string              `json:"email,omitempty"`
	Roles        []string            `json:"roles,omitempty"`
	AuthID       string              `json:"auth_id,omitempty"`
	AuthSource   models.AuthSource   `json:"auth_source"`
	EndpointID   int64               `json:"endpoint_id,omitempty"`
	SecurityType models.SecurityType `json:"security_type"`
}

// WhoAmIHandler is a downstream handler that returns the caller's identity.
// It implements pipeline.SecuredHandler.
type WhoAmIHandler struct {
	logger *logrus.Logger
}

// NewWhoAmIHandler creates a new identity echo handler.
func NewWhoAmIHandler(logger *logrus.Logger) *WhoAmIHandler {
	return &WhoAmIHandler{logger: logger}
}

// ServeSecured writes the identity carried by sc.
func (h *WhoAmIHandler) ServeSecured(w http.ResponseWriter, _ *http.Request, sc *models.SecurityContext) {
	writeJSONResponse(w, h.logger, IdentityResponse{
		RequestID:    sc.RequestID,
		UserID:       sc.UserID,
		Email:        sc.UserEmail,
		Roles:        sc.Roles,
		AuthID:       sc.AuthID,
		AuthSource:   sc.AuthSource,
		EndpointID:   sc.EndpointConfig.ID,
		SecurityType: sc.EndpointConfig.SecurityType,
	}, http.StatusOK)
}
