package publish

import (
	"context"
	"testing"

	"github.com/ivlev/stopcast/internal/config"
)

func TestNewDisabledIsNop(t *testing.T) {
	p, err := New(config.Publish{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("Expected Nop, got %T", p)
	}
	if err := p.Publish(context.Background(), "/nonexistent", "k"); err != nil {
		t.Errorf("Nop must never fail, got %v", err)
	}
}

func TestNewMinio(t *testing.T) {
	if _, err := New(config.Publish{Enabled: true, Bucket: "videos"}); err == nil {
		t.Error("Expected error without endpoint")
	}
	p, err := New(config.Publish{Enabled: true, Endpoint: "localhost:9000", Bucket: "videos", AccessKey: "minio", SecretKey: "minio123"})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := p.(*Minio)
	if !ok || m.bucket != "videos" {
		t.Errorf("Unexpected publisher %T %+v", p, p)
	}
}
