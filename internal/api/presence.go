package api

import (
	"context"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/model"
)

// StorePresence adapts the store to the event bus's presence callbacks so
// last_seen, is_online and sync_logs track the websocket lifecycle.
type StorePresence struct {
	Store interface {
		TouchDevice(ctx context.Context, id int64) error
		SetOnline(ctx context.Context, id int64, online bool) error
		Heartbeat(ctx context.Context, id int64, ip string, screenW, screenH *int) error
		AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error
	}
}

func (p StorePresence) DeviceConnected(ctx context.Context, deviceID int64, ip string) {
	_ = p.Store.TouchDevice(ctx, deviceID)
}

func (p StorePresence) DeviceDisconnected(ctx context.Context, deviceID int64) {
	_ = p.Store.SetOnline(ctx, deviceID, false)
}

func (p StorePresence) DeviceHeartbeat(ctx context.Context, deviceID int64, ip string, hb bus.HeartbeatData) {
	_ = p.Store.Heartbeat(ctx, deviceID, ip, hb.ScreenWidth, hb.ScreenHeight)
}

func (p StorePresence) DeviceSyncReport(ctx context.Context, deviceID int64, report bus.SyncReportData) {
	_ = p.Store.AppendSyncLog(ctx, &model.SyncLogEntry{
		DeviceID: deviceID,
		Action:   "cache_sync",
		Status:   report.Status,
		Message:  report.Message,
	})
}
