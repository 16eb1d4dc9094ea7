package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCacheSetGetDelete(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "root:abc", []byte("-----BEGIN CERTIFICATE-----"), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "root:abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if string(val) != "-----BEGIN CERTIFICATE-----" {
		t.Errorf("value = %q", val)
	}

	if err := c.Delete(ctx, "root:abc"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "root:abc"); ok {
		t.Error("expected miss after delete")
	}
}

func TestCacheMiss(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(context.Background(), "absent"); ok || err != nil {
		t.Errorf("expected clean miss, ok=%v err=%v", ok, err)
	}
}

func TestCacheCopiesValue(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	buf := []byte("original")
	if err := c.Set(ctx, "k", buf, 0); err != nil {
		t.Fatal(err)
	}
	copy(buf, "mutated!")

	val, ok, _ := c.Get(ctx, "k")
	if !ok || string(val) != "original" {
		t.Errorf("cached value = %q, ok=%v; want original", val, ok)
	}
}
