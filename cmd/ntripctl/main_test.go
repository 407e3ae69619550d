package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    int
		wantErr bool
	}{
		{"rtk.example.net", "rtk.example.net", 2101, false},
		{"rtk.example.net:2102", "rtk.example.net", 2102, false},
		{"[::1]:2101", "::1", 2101, false},
		{"rtk.example.net:0", "", 0, true},
		{"rtk.example.net:http", "", 0, true},
		{":2101", "", 0, true},
	}

	for _, tt := range tests {
		host, port, err := parseTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTarget(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if host != tt.host || port != tt.port {
			t.Errorf("parseTarget(%q) = %s, %d", tt.in, host, port)
		}
	}
}

func TestExpandTargets(t *testing.T) {
	got, err := expandTargets([]string{"caster.example.net", "192.168.1.0/30", "10.0.0.8/31"})
	if err != nil {
		t.Fatalf("expandTargets: %v", err)
	}
	want := []string{"caster.example.net", "192.168.1.1", "192.168.1.2", "10.0.0.8", "10.0.0.9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := expandTargets([]string{"10.0.0.0/16"}); err == nil {
		t.Error("expected error for oversized network")
	}
	if _, err := expandTargets([]string{"2001:db8::/120"}); err == nil {
		t.Error("expected error for IPv6 network")
	}
}

func TestCasterName(t *testing.T) {
	if got := casterName("rtk.example.net", 2101); got != "rtk.example.net" {
		t.Errorf("default port: %q", got)
	}
	if got := casterName("rtk.example.net", 2102); got != "rtk.example.net-2102" {
		t.Errorf("other port: %q", got)
	}
}

func TestStatusRows(t *testing.T) {
	rows := statusRows([]*metrics.CasterStatus{
		{Name: "A", State: database.StateDown, InOutage: true, Outage: "5m", Uptime24h: 99.5},
		{Name: "B", State: database.StateUnknown},
	})
	if len(rows) != 2 || rows[0][3] != "5m" || rows[0][4] != "99.50%" {
		t.Errorf("rows[0] = %v", rows[0])
	}
	if rows[1][3] != "-" || rows[1][2] != "-" {
		t.Errorf("rows[1] = %v", rows[1])
	}
}

func TestCastersAddAndRemove(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ctl.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "database:\n  type: boltdb\n  path: " + dbPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) error {
		root := newRootCmd()
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		return root.ExecuteContext(context.Background())
	}

	if err := run("casters", "add", "RTK1", "rtk.example.net:2102", "-u", "user"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := run("casters", "add", "RTK1", "rtk.example.net"); err == nil {
		t.Error("duplicate add succeeded")
	}
	if err := run("casters", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}

	store, err := database.Open("boltdb", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	caster, err := store.GetCaster(context.Background(), "RTK1")
	store.Close()
	if err != nil || caster.Port != 2102 || caster.Username != "user" {
		t.Fatalf("stored caster: %+v, %v", caster, err)
	}

	if err := run("casters", "rm", "RTK1"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if err := run("casters", "rm", "RTK1"); err == nil {
		t.Error("second rm succeeded")
	}
}
