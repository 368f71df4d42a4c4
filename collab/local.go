package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/bin-ledger/inventory"
)

const (
	KindCustodyTransfer = "custody_transfer"
	KindShipment        = "shipment"
)

// Local records collaborator documents in the engine's own DocumentStore.
type Local struct {
	Store   inventory.DocumentStore
	Runtime inventory.Runtime
}

var _ inventory.Documents = (*Local)(nil)

func (l *Local) CreateCustodyTransfer(ctx context.Context, t inventory.CustodyTransfer) (string, error) {
	if len(t.Lines) == 0 {
		return "", fmt.Errorf("%w: custody transfer without lines", inventory.ErrInvalidArgument)
	}
	return l.record(ctx, "CT", KindCustodyTransfer, t.Voucher, t)
}

func (l *Local) CreateShipment(ctx context.Context, s inventory.Shipment) (string, error) {
	if len(s.Lines) == 0 {
		return "", fmt.Errorf("%w: shipment without lines", inventory.ErrInvalidArgument)
	}
	v := inventory.Voucher{Type: inventory.VoucherPickList, ID: s.PickList}
	return l.record(ctx, "SH", KindShipment, v, s)
}

func (l *Local) record(ctx context.Context, prefix, kind string, v inventory.Voucher, doc any) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}

	rt := l.Runtime
	id := prefix + "-" + newID(rt)
	rec := inventory.DocumentRecord{
		ID:        id,
		Kind:      kind,
		Voucher:   v,
		Payload:   payload,
		CreatedAt: now(rt),
	}
	if err := l.Store.SaveDocument(ctx, rec); err != nil {
		return "", fmt.Errorf("record %s: %w", kind, err)
	}
	logger(rt).Info("document recorded",
		zap.String("id", id),
		zap.String("kind", kind),
		zap.String("voucher", v.String()))
	return id, nil
}

func newID(rt inventory.Runtime) string {
	if rt.NewID != nil {
		return rt.NewID()
	}
	return uuid.NewString()
}

func now(rt inventory.Runtime) time.Time {
	if rt.Now != nil {
		return rt.Now().UTC()
	}
	return time.Now().UTC()
}

func logger(rt inventory.Runtime) *zap.Logger {
	if rt.Logger != nil {
		return rt.Logger
	}
	return zap.NewNop()
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier writes notifications to the log. It never fails.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg inventory.Notification) error {
	log := n.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("assignee", msg.Assignee),
		zap.String("ref", msg.RefType+":"+msg.RefID),
		zap.String("from", string(msg.From)),
		zap.String("message", msg.Message))
	return nil
}

// =============================================================================
// STATIC CATALOG
// =============================================================================

// ItemInfo is the metadata StaticCatalog serves for one item.
type ItemInfo struct {
	Name string `json:"name"`
	UOM  string `json:"uom"`
}

// StaticCatalog serves item metadata from a fixed table, typically the items
// section of the warehouse layout file. Unknown items fall back to the item
// code and DefaultUOM.
type StaticCatalog struct {
	Items      map[inventory.ItemID]ItemInfo
	DefaultUOM string
}

func (c StaticCatalog) UOM(_ context.Context, item inventory.ItemID) (string, error) {
	if info, ok := c.Items[item]; ok && info.UOM != "" {
		return info.UOM, nil
	}
	if c.DefaultUOM != "" {
		return c.DefaultUOM, nil
	}
	return "Nos", nil
}

func (c StaticCatalog) ItemName(_ context.Context, item inventory.ItemID) (string, error) {
	if info, ok := c.Items[item]; ok && strings.TrimSpace(info.Name) != "" {
		return info.Name, nil
	}
	return string(item), nil
}
