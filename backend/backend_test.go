package backend

import (
	"context"
	"errors"
	"testing"
)

func TestSelectDeviceEmpty(t *testing.T) {
	_, err := SelectDevice(nil)
	if !errors.Is(err, ErrNoDeviceAvailable) {
		t.Errorf("SelectDevice(nil) error = %v, want ErrNoDeviceAvailable", err)
	}
}

func TestSelectDevicePolicy(t *testing.T) {
	tests := []struct {
		name string
		devs []Descriptor
		want string
	}{
		{
			name: "single device",
			devs: []Descriptor{
				{Name: "only", Class: ClassCPU, ComputeUnits: 4},
			},
			want: "only",
		},
		{
			name: "hardware beats software",
			devs: []Descriptor{
				{Name: "soft", Class: ClassCPU, ComputeUnits: 64},
				{Name: "hard", Class: ClassIntegratedGPU, ComputeUnits: 8},
			},
			want: "hard",
		},
		{
			name: "discrete beats integrated",
			devs: []Descriptor{
				{Name: "igpu", Class: ClassIntegratedGPU, ComputeUnits: 32},
				{Name: "dgpu", Class: ClassDiscreteGPU, ComputeUnits: 16},
			},
			want: "dgpu",
		},
		{
			name: "compute units break class tie",
			devs: []Descriptor{
				{Name: "small", Class: ClassDiscreteGPU, ComputeUnits: 24},
				{Name: "big", Class: ClassDiscreteGPU, ComputeUnits: 48},
			},
			want: "big",
		},
		{
			name: "full tie keeps enumeration order",
			devs: []Descriptor{
				{Name: "first", Class: ClassDiscreteGPU, ComputeUnits: 32},
				{Name: "second", Class: ClassDiscreteGPU, ComputeUnits: 32},
			},
			want: "first",
		},
		{
			name: "virtual beats cpu",
			devs: []Descriptor{
				{Name: "cpu", Class: ClassCPU, ComputeUnits: 16},
				{Name: "virt", Class: ClassVirtual, ComputeUnits: 2},
			},
			want: "virt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectDevice(tt.devs)
			if err != nil {
				t.Fatalf("SelectDevice() error = %v", err)
			}
			if got.Name != tt.want {
				t.Errorf("SelectDevice() = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestSelectDeviceDeterministic(t *testing.T) {
	devs := []Descriptor{
		{Name: "a", Class: ClassIntegratedGPU, ComputeUnits: 16},
		{Name: "b", Class: ClassDiscreteGPU, ComputeUnits: 16},
		{Name: "c", Class: ClassDiscreteGPU, ComputeUnits: 16},
	}
	first, err := SelectDevice(devs)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		got, err := SelectDevice(devs)
		if err != nil {
			t.Fatal(err)
		}
		if got.Key() != first.Key() {
			t.Fatalf("selection not deterministic: %q vs %q", got.Key(), first.Key())
		}
	}
}

func TestDeviceClassHardware(t *testing.T) {
	if ClassCPU.Hardware() {
		t.Error("ClassCPU should not be hardware")
	}
	if ClassUnknown.Hardware() {
		t.Error("ClassUnknown should not be hardware")
	}
	for _, c := range []DeviceClass{ClassVirtual, ClassIntegratedGPU, ClassDiscreteGPU} {
		if !c.Hardware() {
			t.Errorf("%v should be hardware", c)
		}
	}
}

func TestDescriptorKeyStable(t *testing.T) {
	d := Descriptor{
		Backend:  "wgpu",
		Name:     "Test Adapter",
		Class:    ClassDiscreteGPU,
		VendorID: 0x10de,
		DeviceID: 0x2684,
	}
	k1 := d.Key()
	k2 := d.Key()
	if k1 != k2 {
		t.Errorf("Key() not stable: %q vs %q", k1, k2)
	}

	other := d
	other.DeviceID = 0x2685
	if other.Key() == d.Key() {
		t.Error("distinct devices must have distinct keys")
	}
}

type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string                  { return s.name }
func (s *stubBackend) Init() error                   { return nil }
func (s *stubBackend) Close()                        {}
func (s *stubBackend) Devices() []Descriptor         { return nil }
func (s *stubBackend) Device() Descriptor            { return Descriptor{Backend: s.name} }
func (s *stubBackend) OpenSession(ctx context.Context) (Session, error) {
	return nil, ErrNotInitialized
}

func TestRegistry(t *testing.T) {
	Register("stub-a", func() ComputeBackend { return &stubBackend{name: "stub-a"} })
	defer Unregister("stub-a")

	if !IsRegistered("stub-a") {
		t.Fatal("stub-a should be registered")
	}

	b := Get("stub-a")
	if b == nil {
		t.Fatal("Get returned nil for registered backend")
	}
	if b.Name() != "stub-a" {
		t.Errorf("Name() = %q, want %q", b.Name(), "stub-a")
	}

	if Get("no-such-backend") != nil {
		t.Error("Get should return nil for unregistered backend")
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("stub-b", func() ComputeBackend { return &stubBackend{name: "stub-b"} })
	Unregister("stub-b")
	if IsRegistered("stub-b") {
		t.Error("stub-b should not be registered after Unregister")
	}
}

func TestAvailableListsRegistered(t *testing.T) {
	Register("stub-c", func() ComputeBackend { return &stubBackend{name: "stub-c"} })
	defer Unregister("stub-c")

	found := false
	for _, name := range Available() {
		if name == "stub-c" {
			found = true
		}
	}
	if !found {
		t.Errorf("Available() = %v, missing stub-c", Available())
	}
}

func TestAccounting(t *testing.T) {
	var a Accounting

	a.OnAllocate(1024)
	a.OnAllocate(2048)

	st := a.Snapshot()
	if st.LiveBuffers != 2 {
		t.Errorf("LiveBuffers = %d, want 2", st.LiveBuffers)
	}
	if st.LiveBytes != 3072 {
		t.Errorf("LiveBytes = %d, want 3072", st.LiveBytes)
	}
	if st.PeakBytes != 3072 {
		t.Errorf("PeakBytes = %d, want 3072", st.PeakBytes)
	}

	a.OnRelease(1024)
	a.OnRelease(2048)

	st = a.Snapshot()
	if st.LiveBuffers != 0 {
		t.Errorf("LiveBuffers after release = %d, want 0", st.LiveBuffers)
	}
	if st.LiveBytes != 0 {
		t.Errorf("LiveBytes after release = %d, want 0", st.LiveBytes)
	}
	if st.PeakBytes != 3072 {
		t.Errorf("PeakBytes should keep high-water mark, got %d", st.PeakBytes)
	}
	if st.TotalAllocs != 2 {
		t.Errorf("TotalAllocs = %d, want 2", st.TotalAllocs)
	}
}
