package collab_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/collab"
	"github.com/warp/bin-ledger/inventory"
	"github.com/warp/bin-ledger/inventory/store"
)

// fakeService mimics the collaborator service with a chi router.
type fakeService struct {
	transfers     []inventory.CustodyTransfer
	shipments     []inventory.Shipment
	notifications []inventory.Notification
	itemCalls     atomic.Int32
	auth          string
	failNotify    bool
}

func (f *fakeService) handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/custody-transfers", func(w http.ResponseWriter, r *http.Request) {
		f.auth = r.Header.Get("Authorization")
		var t inventory.CustodyTransfer
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.transfers = append(f.transfers, t)
		writeJSON(w, http.StatusCreated, map[string]string{"id": "CT-100"})
	})
	r.Post("/shipments", func(w http.ResponseWriter, r *http.Request) {
		var s inventory.Shipment
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(s.Lines) == 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "validation", "message": "no lines"})
			return
		}
		f.shipments = append(f.shipments, s)
		writeJSON(w, http.StatusCreated, map[string]string{"id": "SH-7"})
	})
	r.Post("/notifications", func(w http.ResponseWriter, r *http.Request) {
		if f.failNotify {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
			return
		}
		var n inventory.Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		f.notifications = append(f.notifications, n)
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.itemCalls.Add(1)
		id := chi.URLParam(r, "id")
		if id != "SKU-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": "Widget", "uom": "Box"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T) (*collab.HTTPClient, *fakeService) {
	t.Helper()
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	return collab.NewHTTPClient(collab.HTTPConfig{BaseURL: srv.URL + "/", Token: "secret"}), svc
}

// =============================================================================
// HTTP CLIENT TESTS
// =============================================================================

func TestHTTPClient_CreateCustodyTransfer(t *testing.T) {
	client, svc := newClient(t)

	id, err := client.CreateCustodyTransfer(context.Background(), inventory.CustodyTransfer{
		Purpose:       inventory.PurposeMaterialTransfer,
		FromWarehouse: "WH-A",
		ToWarehouse:   "WH-B",
		Voucher:       inventory.Voucher{Type: inventory.VoucherPutawayTask, ID: "PT-1"},
		Lines:         []inventory.CustodyLine{{Item: "SKU-1", Qty: decimal.NewFromInt(25), From: "STG-A", To: "B-01"}},
		Actor:         "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "CT-100", id)
	assert.Equal(t, "Bearer secret", svc.auth)

	require.Len(t, svc.transfers, 1)
	got := svc.transfers[0]
	assert.Equal(t, inventory.WarehouseID("WH-B"), got.ToWarehouse)
	assert.Equal(t, "PT-1", got.Voucher.ID)
	assert.True(t, decimal.NewFromInt(25).Equal(got.TotalQty()))
}

func TestHTTPClient_CreateShipment_ErrorStatus(t *testing.T) {
	client, svc := newClient(t)

	_, err := client.CreateShipment(context.Background(), inventory.Shipment{PickList: "PL-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=422")
	assert.Contains(t, err.Error(), "no lines")
	assert.Empty(t, svc.shipments)

	id, err := client.CreateShipment(context.Background(), inventory.Shipment{
		PickList: "PL-1",
		Lines:    []inventory.ShipmentLine{{Item: "SKU-1", Location: "A-01", Qty: decimal.NewFromInt(3)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SH-7", id)
}

func TestHTTPClient_Notify(t *testing.T) {
	client, svc := newClient(t)
	ctx := context.Background()

	n := inventory.Notification{Assignee: "bob", Kind: inventory.EventPickListAssigned, RefType: "pick_list", RefID: "PL-1"}
	require.NoError(t, client.Notify(ctx, n))
	require.Len(t, svc.notifications, 1)
	assert.Equal(t, "bob", svc.notifications[0].Assignee)

	svc.failNotify = true
	err := client.Notify(ctx, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

func TestHTTPClient_ItemMetadataIsCached(t *testing.T) {
	client, svc := newClient(t)
	ctx := context.Background()

	uom, err := client.UOM(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "Box", uom)

	name, err := client.ItemName(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", name)
	assert.Equal(t, int32(1), svc.itemCalls.Load())

	_, err = client.UOM(ctx, "SKU-404")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

// =============================================================================
// LOCAL TESTS
// =============================================================================

func TestLocal_RecordsDocuments(t *testing.T) {
	mem := store.NewMemory()
	local := &collab.Local{
		Store: mem,
		Runtime: inventory.Runtime{
			Now:   func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
			NewID: func() string { return "0001" },
		},
	}
	ctx := context.Background()
	v := inventory.Voucher{Type: inventory.VoucherPutawayTask, ID: "PT-1"}

	id, err := local.CreateCustodyTransfer(ctx, inventory.CustodyTransfer{
		Purpose: inventory.PurposeMaterialTransfer,
		Voucher: v,
		Lines:   []inventory.CustodyLine{{Item: "SKU-1", Qty: decimal.NewFromInt(4)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "CT-0001", id)

	docs, err := mem.DocumentsFor(ctx, v)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, collab.KindCustodyTransfer, docs[0].Kind)

	var payload inventory.CustodyTransfer
	require.NoError(t, json.Unmarshal(docs[0].Payload, &payload))
	assert.Equal(t, inventory.PurposeMaterialTransfer, payload.Purpose)

	shipID, err := local.CreateShipment(ctx, inventory.Shipment{
		PickList: "PL-1",
		Lines:    []inventory.ShipmentLine{{Item: "SKU-1", Location: "A-01", Qty: decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SH-0001", shipID)

	shipDocs, err := mem.DocumentsFor(ctx, inventory.Voucher{Type: inventory.VoucherPickList, ID: "PL-1"})
	require.NoError(t, err)
	require.Len(t, shipDocs, 1)
	assert.Equal(t, collab.KindShipment, shipDocs[0].Kind)
}

func TestLocal_RejectsEmptyDocuments(t *testing.T) {
	local := &collab.Local{Store: store.NewMemory()}

	_, err := local.CreateShipment(context.Background(), inventory.Shipment{PickList: "PL-1"})
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
	_, err = local.CreateCustodyTransfer(context.Background(), inventory.CustodyTransfer{})
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
}

func TestStaticCatalog(t *testing.T) {
	cat := collab.StaticCatalog{
		Items:      map[inventory.ItemID]collab.ItemInfo{"SKU-1": {Name: "Widget", UOM: "Box"}},
		DefaultUOM: "Each",
	}
	ctx := context.Background()

	uom, _ := cat.UOM(ctx, "SKU-1")
	assert.Equal(t, "Box", uom)
	uom, _ = cat.UOM(ctx, "SKU-2")
	assert.Equal(t, "Each", uom)
	name, _ := cat.ItemName(ctx, "SKU-2")
	assert.Equal(t, "SKU-2", name)

	assert.NoError(t, collab.LogNotifier{}.Notify(ctx, inventory.Notification{Assignee: "bob"}))
}
