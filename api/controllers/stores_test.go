package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/internal/stores"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
)

type stubDescriber struct {
	dto *stores.StoreDTO
}

func (s stubDescriber) Describe(_ context.Context, id uuid.UUID) (*stores.StoreDTO, error) {
	if s.dto == nil || s.dto.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
	}
	return s.dto, nil
}

func TestStoreProfileReturnsTokenStore(t *testing.T) {
	storeID := uuid.New()
	svc := stubDescriber{dto: &stores.StoreDTO{ID: storeID, ShopDomain: "demo.myshopify.com", ForwardingReady: true}}

	rec := httptest.NewRecorder()
	StoreProfile(svc, nil).ServeHTTP(rec, storeRequest(http.MethodGet, "/api/v1/attribution/store", storeID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data stores.StoreDTO `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.ShopDomain != "demo.myshopify.com" || !envelope.Data.ForwardingReady {
		t.Fatalf("unexpected body %+v", envelope.Data)
	}
}

func TestStoreProfileRequiresStoreContext(t *testing.T) {
	rec := httptest.NewRecorder()
	StoreProfile(stubDescriber{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attribution/store", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestStoreProfileUnknownStore(t *testing.T) {
	rec := httptest.NewRecorder()
	StoreProfile(stubDescriber{}, nil).ServeHTTP(rec, storeRequest(http.MethodGet, "/api/v1/attribution/store", uuid.New()))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
