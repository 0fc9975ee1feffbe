package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		jwt    string
		want   string
	}{
		{"header", "/", "hospital_abc", "", "hospital_abc"},
		{"query", "/?tenant_id=clinic_xyz", "", "", "clinic_xyz"},
		{"jwt", "/", "", "jwt_tenant", "jwt_tenant"},
		{"default", "/", "", "", "default"},
		{"jwt beats header and query", "/?tenant_id=query", "header", "jwt", "jwt"},
		{"header beats query", "/?tenant_id=query", "header", "", "header"},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			c.Set("jwt_tenant_id", tt.jwt)

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestValidTenantID(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"hospital_1", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTenantID(tt.input); got != tt.valid {
			t.Errorf("ValidTenantID(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("clinic_1"); got != "tenant_clinic_1" {
		t.Errorf("expected tenant_clinic_1, got %s", got)
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := WithTenant(context.Background(), "test_tenant")
	if tid := TenantFromContext(ctx); tid != "test_tenant" {
		t.Errorf("expected test_tenant, got %s", tid)
	}
	if tid := TenantFromContext(context.Background()); tid != "" {
		t.Errorf("expected empty string, got %s", tid)
	}
	wrong := context.WithValue(context.Background(), TenantIDKey, 12345)
	if tid := TenantFromContext(wrong); tid != "" {
		t.Errorf("expected empty string for wrong type, got %q", tid)
	}
}

func TestCreateTenantSchema_InvalidIDs(t *testing.T) {
	for _, id := range []string{"invalid-id!", "tenant.with.dot", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestContextAccessors_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	ctx = context.WithValue(ctx, DBTxKey, "not-a-tx")
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil when conn value is wrong type")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil when tx value is wrong type")
	}
}

func TestRunInTx_NoConnection(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error without any connection")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestNoTx(t *testing.T) {
	called := false
	err := NoTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run directly, err=%v called=%v", err, called)
	}
}

func TestAcquireTenant_InvalidID(t *testing.T) {
	ctx, release, err := AcquireTenant(context.Background(), nil, "bad;drop")
	if err == nil {
		t.Fatal("expected error for invalid tenant id")
	}
	if release != nil {
		t.Error("expected no release func on error")
	}
	if TenantFromContext(ctx) != "" {
		t.Error("expected context without tenant")
	}
}
