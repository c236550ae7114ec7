package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/auth"
	"github.com/jmcleod/gatehouse/internal/uuid"
	"github.com/jmcleod/gatehouse/storage"
)

// devicesCollection holds registered devices in the document store. The
// documents endpoints refuse it.
const devicesCollection = "devices"

const maxDeviceLabelLen = 100

type deviceRecord struct {
	Label        string    `json:"label"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// RegisterDevice handles POST /api/admin/devices.
func (a *API) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	if !a.requireLevel(w, r, "register_device", auth.LevelMFA) {
		return
	}
	req, ok := decodeJSON[RegisterDeviceRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" || utf8.RuneCountInString(label) > maxDeviceLabelLen {
		writeError(w, http.StatusBadRequest, "label must be 1-100 characters")
		return
	}

	now := a.now().UTC()
	body, err := json.Marshal(deviceRecord{Label: label, RegisteredAt: now})
	if err != nil {
		writeInternalError(w)
		return
	}
	id := uuid.New()
	err = a.repo.Put(r.Context(), &storage.Document{
		Collection: devicesCollection,
		Slug:       id,
		Body:       body,
		Status:     storage.StatusPublished,
		Revision:   1,
		UpdatedAt:  now,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.Log(r.Context(), audit.DeviceRegistered, slog.String("device_id", id))
	writeJSON(w, http.StatusCreated, Device{ID: id, Label: label, RegisteredAt: now})
}

// ListDevices handles GET /api/admin/devices.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	docs, err := a.repo.List(r.Context(), devicesCollection)
	if err != nil {
		mapError(w, err)
		return
	}
	devices := make([]Device, 0, len(docs))
	for _, d := range docs {
		var rec deviceRecord
		if err := json.Unmarshal(d.Body, &rec); err != nil {
			a.logger.Warn("skipping unreadable device record", slog.String("device_id", d.Slug))
			continue
		}
		devices = append(devices, Device{ID: d.Slug, Label: rec.Label, RegisteredAt: rec.RegisteredAt})
	}
	writeJSON(w, http.StatusOK, ListDevicesResponse{Devices: devices})
}
