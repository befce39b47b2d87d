package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/laminar-data/fgbridge/internal/bridge"
	"github.com/laminar-data/fgbridge/internal/config"
	"github.com/laminar-data/fgbridge/internal/db"
	"github.com/laminar-data/fgbridge/internal/testutil"
)

const testProtocolXML = `<?xml version="1.0"?>
<PropertyList>
  <generic>
    <input>
      <chunk><name>throttle</name><node>/controls/engines/engine/throttle</node></chunk>
      <chunk><name>heading</name><node>/fdm/jsbsim/ap/heading_setpoint</node></chunk>
    </input>
  </generic>
</PropertyList>`

func floatPtr(v float64) *float64 { return &v }

func TestResolveFieldsInline(t *testing.T) {
	v := &config.VehicleConfig{Name: "uav", Fields: []string{"a", "b"}}
	fields, err := resolveFields(v, "protocols")
	testutil.AssertNoError(t, err)
	if len(fields) != 2 || fields[0] != "a" {
		t.Errorf("fields = %v", fields)
	}
}

func TestResolveFieldsFromProtocol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uav-in.xml")
	if err := os.WriteFile(path, []byte(testProtocolXML), 0o644); err != nil {
		t.Fatal(err)
	}

	proto := "uav-in.xml"
	v := &config.VehicleConfig{Name: "uav", InputProtocol: &proto}
	fields, err := resolveFields(v, dir)
	testutil.AssertNoError(t, err)
	if len(fields) != 2 || fields[0] != "throttle" || fields[1] != "heading" {
		t.Errorf("fields = %v", fields)
	}

	// Paths may not escape the protocol directory.
	escape := "../uav-in.xml"
	v = &config.VehicleConfig{Name: "uav", InputProtocol: &escape}
	if _, err := resolveFields(v, dir); err == nil {
		t.Error("resolveFields accepted a path outside the protocol directory")
	}
}

func TestNewVehicleEndpointAppliesPresets(t *testing.T) {
	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	testutil.AssertNoError(t, err)
	defer sim.Close()

	heading := 199.67
	cfg := &config.BridgeConfig{ReferenceHeading: &heading}
	host := "127.0.0.1"
	v := &config.VehicleConfig{
		Name:     "uav",
		Host:     &host,
		Fields:   []string{"throttle", "heading"},
		RecvPort: 0,
		SendPort: sim.LocalAddr().(*net.UDPAddr).Port,
		Presets: []config.PresetConfig{
			{Field: "throttle", Scale: floatPtr(0.5), Bias: floatPtr(0.1)},
		},
	}

	ep, err := newVehicleEndpoint(cfg, v, nil)
	testutil.AssertNoError(t, err)
	defer ep.Close()

	_, scale, bias := ep.Parameters()
	testutil.AssertFloatsEqual(t, scale, []float64{0.5, 1}, 1e-9)
	testutil.AssertFloatsEqual(t, bias, []float64{0.1, 199.67}, 1e-9)
}

func TestNewVehicleEndpointRejectsUnknownPresetField(t *testing.T) {
	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	testutil.AssertNoError(t, err)
	defer sim.Close()

	host := "127.0.0.1"
	v := &config.VehicleConfig{
		Name:     "uav",
		Host:     &host,
		Fields:   []string{"throttle"},
		SendPort: sim.LocalAddr().(*net.UDPAddr).Port,
		Presets:  []config.PresetConfig{{Field: "flaps", Scale: floatPtr(2)}},
	}
	if _, err := newVehicleEndpoint(&config.BridgeConfig{}, v, nil); err == nil {
		t.Error("newVehicleEndpoint accepted a preset for an unregistered field")
	}
}

func TestCommandRecorderPersistsSends(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "bridge.db"))
	testutil.AssertNoError(t, err)
	defer database.Close()
	testutil.AssertNoError(t, database.MigrateUp("internal/db/migrations"))

	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	testutil.AssertNoError(t, err)
	defer sim.Close()

	host := "127.0.0.1"
	v := &config.VehicleConfig{
		Name:     "uav",
		Host:     &host,
		Fields:   []string{"throttle"},
		SendPort: sim.LocalAddr().(*net.UDPAddr).Port,
	}
	ep, err := newVehicleEndpoint(&config.BridgeConfig{}, v, commandRecorder(database, v.Name))
	testutil.AssertNoError(t, err)
	defer ep.Close()

	testutil.AssertNoError(t, ep.UpdateSetpoint("throttle", 0.75))
	testutil.AssertNoError(t, ep.SendCommand())

	rows, err := database.RecentCommands("uav", 10)
	testutil.AssertNoError(t, err)
	if len(rows) != 1 {
		t.Fatalf("recorded commands = %+v, want one row", rows)
	}
	if rows[0].Line != "0.750000" {
		t.Errorf("recorded line = %q, want %q", rows[0].Line, "0.750000")
	}

	// Recording disabled: no hook, nothing to call.
	if hook := commandRecorder(nil, "uav"); hook != nil {
		t.Error("commandRecorder(nil) returned a hook")
	}
}

func TestApplyPresets(t *testing.T) {
	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	testutil.AssertNoError(t, err)
	defer sim.Close()

	ep, err := bridge.NewEndpoint(bridge.Config{
		Name:     "uav",
		Fields:   []string{"altitude"},
		Host:     "127.0.0.1",
		SendPort: sim.LocalAddr().(*net.UDPAddr).Port,
	})
	testutil.AssertNoError(t, err)
	defer ep.Close()

	err = applyPresets(ep, []config.PresetConfig{{Field: "altitude", Scale: floatPtr(3.28)}})
	testutil.AssertNoError(t, err)
	_, scale, _ := ep.Parameters()
	testutil.AssertInDelta(t, scale[0], 3.28, 1e-9)
}

func TestOpenSerialTapDevMode(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "tap.txt")
	if err := os.WriteFile(fixture, []byte("1.0\t2.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	mux, err := openSerialTap(&config.SerialTapConfig{Path: fixture}, true)
	testutil.AssertNoError(t, err)
	defer mux.Close()

	if _, err := openSerialTap(&config.SerialTapConfig{Path: "missing.txt"}, true); err == nil {
		t.Error("openSerialTap accepted a missing fixture file")
	}
}
