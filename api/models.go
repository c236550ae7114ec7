package api

import (
	"encoding/json"
	"time"

	"github.com/jmcleod/gatehouse/storage"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges a request that has nothing else to return.
type OKResponse struct {
	OK bool `json:"ok"`
}

// CreateSessionRequest is the JSON body for POST /api/admin/session.
type CreateSessionRequest struct {
	Secret string `json:"secret"`
	OTP    string `json:"otp"`
}

// SessionStatusResponse is returned from GET /api/admin/session.
type SessionStatusResponse struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// SetupMFARequest is the JSON body for POST /api/admin/mfa/setup.
type SetupMFARequest struct {
	Secret string `json:"secret"`
}

// SetupMFAResponse carries what an authenticator app needs to enrol.
type SetupMFAResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

// PutDocumentRequest is the JSON body for PUT /api/admin/documents/{collection}/{slug}.
type PutDocumentRequest struct {
	Body json.RawMessage `json:"body"`
}

// ListDocumentsResponse is returned from GET /api/admin/documents/{collection}.
type ListDocumentsResponse struct {
	Documents []*storage.Document `json:"documents"`
}

// RegisterDeviceRequest is the JSON body for POST /api/admin/devices.
type RegisterDeviceRequest struct {
	Label string `json:"label"`
}

// Device is a labelled device registered by the admin.
type Device struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// ListDevicesResponse is returned from GET /api/admin/devices.
type ListDevicesResponse struct {
	Devices []Device `json:"devices"`
}
