package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"adbappmgr/pkg/bridge"
	"adbappmgr/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers adb calls from canned output keyed by the joined arguments
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string]string),
		errs:      make(map[string]error),
	}
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func (f *fakeRunner) called(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

// fakeDevice keeps a package set and mutates it on uninstall like a real device
type fakeDevice struct {
	mu        sync.Mutex
	installed []string
	protected map[string]bool
}

func (d *fakeDevice) Run(ctx context.Context, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key := strings.Join(args, " "); {
	case key == "devices":
		return "List of devices attached\nR58M123\tdevice\n", nil
	case key == "shell getprop ro.product.model":
		return "SM-G991B\n", nil
	case key == "shell pm list packages":
		var b strings.Builder
		for _, p := range d.installed {
			fmt.Fprintf(&b, "package:%s\n", p)
		}
		return b.String(), nil
	case strings.HasPrefix(key, "shell pm uninstall --user 0 "):
		name := args[len(args)-1]
		if d.protected[name] {
			return "Failure [DELETE_FAILED_INTERNAL_ERROR]\n", nil
		}
		for i, p := range d.installed {
			if p == name {
				d.installed = append(d.installed[:i], d.installed[i+1:]...)
				return "Success\n", nil
			}
		}
		return "Failure [not installed for 0]\n", nil
	}
	return "", nil
}

func newTestManager(r Runner) (*Manager, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(r, zerolog.New(&buf)), &buf
}

func TestCheckConnection_Connected(t *testing.T) {
	r := newFakeRunner()
	r.responses["devices"] = "List of devices attached\nemulator-5554\tdevice\n\n"
	r.responses["shell getprop ro.product.model"] = "Pixel 5\n"
	r.responses["shell pm list packages"] = "package:com.b\npackage:com.A\n"
	m, _ := newTestManager(r)

	device, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, types.DeviceDescriptor{Model: "Pixel 5", Serial: "emulator-5554"}, *device)

	assert.Equal(t, 1, r.called("shell pm list packages"), "connection check should refresh the inventory")
	assert.Equal(t, []string{"com.A", "com.b"}, m.Packages())
	assert.Equal(t, device, m.Device())
	require.NotNil(t, m.Snapshot().SyncedAt)
}

func TestCheckConnection_NoDeviceLine(t *testing.T) {
	r := newFakeRunner()
	r.responses["devices"] = "List of devices attached\n\n"
	m, _ := newTestManager(r)

	device, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	assert.Nil(t, device)
	assert.Zero(t, r.called("shell getprop ro.product.model"))
	assert.Zero(t, r.called("shell pm list packages"))
	assert.Empty(t, m.Packages())
	assert.Nil(t, m.Device())
}

func TestCheckConnection_DisconnectKeepsInventory(t *testing.T) {
	r := newFakeRunner()
	r.responses["devices"] = "List of devices attached\nemulator-5554\tdevice\n"
	r.responses["shell getprop ro.product.model"] = "Pixel 5"
	r.responses["shell pm list packages"] = "package:com.example.one\n"
	m, _ := newTestManager(r)

	_, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m.Device())

	r.responses["devices"] = "List of devices attached\n"
	device, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	assert.Nil(t, device)
	assert.Nil(t, m.Device(), "last-known device must be cleared")
	assert.Equal(t, []string{"com.example.one"}, m.Packages(), "inventory must be untouched")
}

func TestCheckConnection_DeviceStates(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		connected bool
		serial    string
	}{
		{"device", "List of devices attached\nemulator-5554\tdevice\n", true, "emulator-5554"},
		{"device with details", "List of devices attached\nR58M123   device usb:1-1 product:o1s model:SM_G991B\n", true, "R58M123"},
		{"windows line endings", "List of devices attached\r\n192.168.1.20:5555\tdevice\r\n", true, "192.168.1.20:5555"},
		{"offline", "List of devices attached\nemulator-5554\toffline\n", false, ""},
		{"unauthorized", "List of devices attached\nemulator-5554\tunauthorized\n", false, ""},
		{"serial containing device", "List of devices attached\nmydevice01\toffline\n", false, ""},
		{"header only", "List of devices attached\n", false, ""},
		{"empty output", "", false, ""},
		{"daemon noise", "* daemon not running; starting now at tcp:5037\n* daemon started successfully\n", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.responses["devices"] = tt.output
			r.responses["shell getprop ro.product.model"] = "Model\n"
			m, _ := newTestManager(r)

			device, err := m.CheckConnection(context.Background())
			require.NoError(t, err)
			if !tt.connected {
				assert.Nil(t, device)
				return
			}
			require.NotNil(t, device)
			assert.Equal(t, tt.serial, device.Serial)
			assert.Equal(t, "Model", device.Model)
		})
	}
}

func TestCheckConnection_ExecutionError(t *testing.T) {
	r := newFakeRunner()
	r.errs["devices"] = &bridge.ExecutionError{Path: "adb", Args: []string{"devices"}, Err: errors.New("executable file not found in $PATH")}
	m, _ := newTestManager(r)

	device, err := m.CheckConnection(context.Background())
	assert.Nil(t, device)
	assert.ErrorIs(t, err, bridge.ErrExecution)
}

func TestCheckConnection_RefreshFailureStillReturnsDevice(t *testing.T) {
	r := newFakeRunner()
	r.responses["devices"] = "List of devices attached\nemulator-5554\tdevice\n"
	r.responses["shell getprop ro.product.model"] = "Pixel 5\n"
	r.errs["shell pm list packages"] = &bridge.ExecutionError{Path: "adb", Err: errors.New("killed")}
	m, _ := newTestManager(r)

	device, err := m.CheckConnection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrExecution)
	require.NotNil(t, device)
	assert.Equal(t, "Pixel 5", device.Model)
}

func TestCheckConnection_ModelFailureForgetsDevice(t *testing.T) {
	r := newFakeRunner()
	r.responses["devices"] = "List of devices attached\nemulator-5554\tdevice\n"
	r.responses["shell getprop ro.product.model"] = "Pixel 5\n"
	r.responses["shell pm list packages"] = "package:com.example.one\n"
	m, _ := newTestManager(r)

	_, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m.Device())

	r.mu.Lock()
	r.responses["devices"] = "List of devices attached\nOTHER999\tdevice\n"
	r.errs["shell getprop ro.product.model"] = &bridge.ExecutionError{Path: "adb", Err: errors.New("device closed")}
	r.mu.Unlock()

	device, err := m.CheckConnection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrExecution)
	assert.Nil(t, device)
	assert.Nil(t, m.Device(), "a failed model read must not leave the previous device connected")
	assert.Nil(t, m.Snapshot().Device)
	assert.Equal(t, []string{"com.example.one"}, m.Packages(), "inventory is kept")
}

func TestRefresh_SortsCaseInsensitively(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:com.b\npackage:com.A\n"
	m, _ := newTestManager(r)

	packages, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.A", "com.b"}, packages)
	assert.Equal(t, packages, m.Packages())
}

func TestRefresh_ParsesRawOutput(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:org.mozilla.firefox\r\n\r\nWARNING: linker: unused DT entry\npackage:com.android.chrome\r\npackage:\n"
	m, _ := newTestManager(r)

	packages, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.android.chrome", "org.mozilla.firefox"}, packages)
}

func TestRefresh_KeepsDuplicates(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:com.dup\npackage:com.a\npackage:com.dup\n"
	m, _ := newTestManager(r)

	packages, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a", "com.dup", "com.dup"}, packages)
}

func TestRefresh_EmptyOutput(t *testing.T) {
	r := newFakeRunner()
	m, _ := newTestManager(r)

	packages, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, packages)
	assert.Empty(t, packages)
}

func TestRefresh_ErrorKeepsPreviousInventory(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:com.kept\n"
	m, _ := newTestManager(r)
	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	r.errs["shell pm list packages"] = &bridge.ExecutionError{Path: "adb", Err: errors.New("boom")}
	packages, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, bridge.ErrExecution)
	assert.Nil(t, packages)
	assert.Equal(t, []string{"com.kept"}, m.Packages())
}

func TestRefresh_StableForEqualKeys(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:com.Zed\npackage:com.APP\npackage:com.zed\npackage:com.app\npackage:com.App\n"
	m, _ := newTestManager(r)

	packages, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.APP", "com.app", "com.App", "com.Zed", "com.zed"}, packages)
}

func TestRefresh_OrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("aAbBcC.zZ_1")

	for round := 0; round < 200; round++ {
		n := rng.Intn(30)
		raw := make([]string, n)
		var b strings.Builder
		for i := range raw {
			length := 1 + rng.Intn(4)
			name := make([]rune, length)
			for j := range name {
				name[j] = alphabet[rng.Intn(len(alphabet))]
			}
			raw[i] = string(name)
			fmt.Fprintf(&b, "package:%s\n", raw[i])
		}

		r := newFakeRunner()
		r.responses["shell pm list packages"] = b.String()
		m, _ := newTestManager(r)
		packages, err := m.Refresh(context.Background())
		require.NoError(t, err)
		require.Len(t, packages, n)

		for i := 1; i < len(packages); i++ {
			prev, cur := strings.ToLower(packages[i-1]), strings.ToLower(packages[i])
			require.LessOrEqual(t, prev, cur, "round %d not sorted: %v", round, packages)
		}

		// ties keep input order: compare per key against the raw sequence
		byKey := map[string][]string{}
		for _, p := range raw {
			k := strings.ToLower(p)
			byKey[k] = append(byKey[k], p)
		}
		gotByKey := map[string][]string{}
		for _, p := range packages {
			k := strings.ToLower(p)
			gotByKey[k] = append(gotByKey[k], p)
		}
		require.Equal(t, byKey, gotByKey, "round %d not stable", round)
	}
}

func TestFilter(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:com.Google.android.gm\npackage:com.whatsapp\npackage:com.google.android.youtube\npackage:org.telegram.messenger\n"
	m, _ := newTestManager(r)
	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"com.Google.android.gm", "com.google.android.youtube", "com.whatsapp", "org.telegram.messenger"}},
		{"google", []string{"com.Google.android.gm", "com.google.android.youtube"}},
		{"GOOGLE", []string{"com.Google.android.gm", "com.google.android.youtube"}},
		{"App", []string{"com.whatsapp"}},
		{"nothing-matches", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Filter(tt.query))
		})
	}
	assert.Len(t, m.Packages(), 4, "filtering must not mutate the inventory")
}

func TestFilter_SubsequenceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	letters := []rune("abAB.")

	var b strings.Builder
	for i := 0; i < 60; i++ {
		name := make([]rune, 1+rng.Intn(5))
		for j := range name {
			name[j] = letters[rng.Intn(len(letters))]
		}
		fmt.Fprintf(&b, "package:%s\n", string(name))
	}
	r := newFakeRunner()
	r.responses["shell pm list packages"] = b.String()
	m, _ := newTestManager(r)
	all, err := m.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, all, m.Filter(""))

	for _, q := range []string{"a", "B", "ab", "A.", ".", "bab", "zz"} {
		got := m.Filter(q)
		i := 0
		for _, g := range got {
			assert.Contains(t, strings.ToLower(g), strings.ToLower(q))
			for i < len(all) && all[i] != g {
				i++
			}
			require.Less(t, i, len(all), "%q result %v is not a subsequence", q, got)
			i++
		}
	}
}

func TestFilter_ReturnsCopy(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm list packages"] = "package:com.a\npackage:com.b\n"
	m, _ := newTestManager(r)
	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	got := m.Filter("")
	got[0] = "tampered"
	pk := m.Packages()
	pk[1] = "tampered"
	assert.Equal(t, []string{"com.a", "com.b"}, m.Packages())
}

func TestRemove_Success(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm uninstall --user 0 com.example.app"] = "Success\n"
	r.responses["shell pm list packages"] = "package:com.other\n"
	m, _ := newTestManager(r)

	outcome, err := m.Remove(context.Background(), "com.example.app")
	require.NoError(t, err)
	assert.True(t, outcome.Removed())
	assert.Equal(t, types.RemovalRemoved, outcome.Status)
	assert.Equal(t, "com.example.app", outcome.Package)
	assert.Empty(t, outcome.Output)
	assert.Equal(t, 1, r.called("shell pm list packages"), "successful removal should refresh")
}

func TestRemove_Failure(t *testing.T) {
	r := newFakeRunner()
	r.responses["shell pm uninstall --user 0 com.example.app"] = "Failure [DELETE_FAILED]"
	m, logs := newTestManager(r)

	outcome, err := m.Remove(context.Background(), "com.example.app")
	require.NoError(t, err)
	assert.False(t, outcome.Removed())
	assert.Equal(t, types.RemovalFailed, outcome.Status)
	assert.Equal(t, "Failure [DELETE_FAILED]", outcome.Output)
	assert.Zero(t, r.called("shell pm list packages"), "failed removal must not refresh")
	assert.Contains(t, logs.String(), "Uninstall reported failure")
}

func TestRemove_ExecutionError(t *testing.T) {
	r := newFakeRunner()
	r.errs["shell pm uninstall --user 0 com.example.app"] = &bridge.ExecutionError{Path: "adb", Err: errors.New("not found")}
	m, _ := newTestManager(r)

	outcome, err := m.Remove(context.Background(), "com.example.app")
	assert.ErrorIs(t, err, bridge.ErrExecution)
	assert.Equal(t, types.RemovalFailed, outcome.Status)
}

func TestRemove_InvalidName(t *testing.T) {
	r := newFakeRunner()
	m, _ := newTestManager(r)

	for _, name := range []string{"", "com.a; reboot", "com.a && rm -rf /sdcard", "$(id)", "com a", "com.a\n"} {
		_, err := m.Remove(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidPackage, "name %q", name)
	}
	assert.Empty(t, r.calls, "no adb call for rejected names")
}

func TestRemove_RefreshDoesNotReintroduce(t *testing.T) {
	dev := &fakeDevice{
		installed: []string{"com.spotify.music", "com.Facebook.katana", "com.android.settings"},
		protected: map[string]bool{"com.android.settings": true},
	}
	m, _ := newTestManager(dev)

	device, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "SM-G991B", device.Model)
	assert.Equal(t, []string{"com.android.settings", "com.Facebook.katana", "com.spotify.music"}, m.Packages())

	outcome, err := m.Remove(context.Background(), "com.Facebook.katana")
	require.NoError(t, err)
	require.True(t, outcome.Removed())
	assert.NotContains(t, m.Packages(), "com.Facebook.katana")

	_, err = m.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, m.Packages(), "com.Facebook.katana")

	outcome, err = m.Remove(context.Background(), "com.android.settings")
	require.NoError(t, err)
	assert.False(t, outcome.Removed())
	assert.Contains(t, m.Packages(), "com.android.settings")
}

func TestSnapshot(t *testing.T) {
	dev := &fakeDevice{installed: []string{"b.app", "a.app"}}
	m, _ := newTestManager(dev)

	empty := m.Snapshot()
	assert.Nil(t, empty.Device)
	assert.Empty(t, empty.Packages)
	assert.Nil(t, empty.SyncedAt)

	_, err := m.CheckConnection(context.Background())
	require.NoError(t, err)

	snap := m.Snapshot()
	require.NotNil(t, snap.Device)
	assert.Equal(t, "R58M123", snap.Device.Serial)
	assert.Equal(t, []string{"a.app", "b.app"}, snap.Packages)
	assert.Equal(t, 2, snap.Total)
	require.NotNil(t, snap.SyncedAt)
	assert.False(t, snap.SyncedAt.IsZero())
}

func TestManager_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	small := "package:a.one\n"
	large := "package:b.one\npackage:b.two\npackage:b.three\n"

	r := newFakeRunner()
	r.responses["shell pm list packages"] = small
	m, _ := newTestManager(r)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := m.Filter("")
				if len(got) != 0 && len(got) != 1 && len(got) != 3 {
					t.Errorf("partial snapshot observed: %v", got)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		r.mu.Lock()
		if i%2 == 0 {
			r.responses["shell pm list packages"] = large
		} else {
			r.responses["shell pm list packages"] = small
		}
		r.mu.Unlock()
		_, err := m.Refresh(context.Background())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestValidatePackageName(t *testing.T) {
	valid := []string{"com.example.app", "com.android.chrome", "a", "com.app_1.Beta"}
	for _, name := range valid {
		assert.NoError(t, ValidatePackageName(name), name)
	}

	long := strings.Repeat("a", 257)
	invalid := []string{"", long, "com.example;reboot", "com|x", "com`x`", "com.x'", "com-x"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidatePackageName(name), ErrInvalidPackage, name)
	}
}
