package registry

import (
	"testing"
	"time"

	"github.com/kaori-seasons/edgesched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor(name string) types.PluginDescriptor {
	return types.PluginDescriptor{
		Name:          name,
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	}
}

func validImage() types.PluginImage {
	return types.PluginImage{Command: []string{"/bin/echo"}}
}

func TestRegisterLookupRoundTrip(t *testing.T) {
	r := New()
	desc := validDescriptor("echo")
	img := validImage()

	require.NoError(t, r.Register(desc, img))

	gotDesc, gotImg, ok := r.Lookup("echo")
	assert.True(t, ok)
	assert.Equal(t, desc, gotDesc)
	assert.Equal(t, img, gotImg)
}

func TestUnregisterThenLookupMisses(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validDescriptor("echo"), validImage()))

	r.Unregister("echo")

	_, _, ok := r.Lookup("echo")
	assert.False(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		desc types.PluginDescriptor
		img  types.PluginImage
	}{
		{"empty name", types.PluginDescriptor{Timeout: time.Second, MaxConcurrent: 1}, validImage()},
		{"zero timeout", types.PluginDescriptor{Name: "x", MaxConcurrent: 1}, validImage()},
		{"zero max concurrent", types.PluginDescriptor{Name: "x", Timeout: time.Second}, validImage()},
		{"empty command", validDescriptor("x"), types.PluginImage{}},
		{"missing rootfs", validDescriptor("x"), types.PluginImage{Command: []string{"/bin/echo"}, RootfsPath: "/no/such/path"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			err := r.Register(tt.desc, tt.img)
			assert.Error(t, err)
		})
	}
}

func TestDuplicateRegisterReplaces(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validDescriptor("echo"), validImage()))

	updated := validDescriptor("echo")
	updated.Description = "v2"
	require.NoError(t, r.Register(updated, validImage()))

	gotDesc, _, ok := r.Lookup("echo")
	assert.True(t, ok)
	assert.Equal(t, "v2", gotDesc.Description)
}

func TestListByTag(t *testing.T) {
	r := New()
	withTag := validDescriptor("vibration-fft")
	withTag.Tags = []string{"vibration"}
	require.NoError(t, r.Register(withTag, validImage()))
	require.NoError(t, r.Register(validDescriptor("other"), validImage()))

	tagged := r.ListByTag("vibration")
	assert.Len(t, tagged, 1)
	assert.Equal(t, "vibration-fft", tagged[0].Name)
}

func TestTryAcquireRespectsMaxConcurrent(t *testing.T) {
	r := New()
	desc := validDescriptor("echo")
	desc.MaxConcurrent = 1
	require.NoError(t, r.Register(desc, validImage()))

	assert.True(t, r.TryAcquire("echo"))
	assert.False(t, r.TryAcquire("echo"), "second acquire should fail at capacity")

	r.Release("echo")
	assert.True(t, r.TryAcquire("echo"), "release should free capacity")
}

func TestTryAcquireUnknownPlugin(t *testing.T) {
	r := New()
	assert.False(t, r.TryAcquire("nope"))
}
