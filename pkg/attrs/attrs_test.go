package attrs

import "testing"

func TestContainerSetGet(t *testing.T) {
	c := New()
	c.Set("cgroup", "path", "/sys/fs/cgroup/bbque/app1")
	v, ok := c.Get("cgroup", "path")
	if !ok || v != "/sys/fs/cgroup/bbque/app1" {
		t.Fatalf("got %v, %v", v, ok)
	}

	if _, ok := c.Get("cgroup", "missing"); ok {
		t.Error("expected miss")
	}
}

func TestContainerNamespaceIsolation(t *testing.T) {
	c := New()
	c.Set("ns1", "k", "a")
	c.Set("ns2", "k", "b")

	v1, _ := c.Get("ns1", "k")
	v2, _ := c.Get("ns2", "k")
	if v1 != "a" || v2 != "b" {
		t.Fatalf("namespaces leaked: %v %v", v1, v2)
	}

	ns1 := c.Namespace("ns1")
	if len(ns1) != 1 || ns1["k"] != "a" {
		t.Fatalf("unexpected namespace view: %v", ns1)
	}
}

func TestContainerDelete(t *testing.T) {
	c := New()
	c.Set("ns", "k", 1)
	c.Delete("ns", "k")
	if _, ok := c.Get("ns", "k"); ok {
		t.Error("expected key removed")
	}
	if c.Len() != 0 {
		t.Error("expected empty container")
	}
}
