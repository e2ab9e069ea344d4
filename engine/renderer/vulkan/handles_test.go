package vulkan

import (
	"encoding/binary"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func TestHandleTableNeverIssuesZero(t *testing.T) {
	table := newHandleTable[string]()
	first := table.add("a")
	second := table.add("b")
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	v, ok := table.get(first)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = table.get(0)
	assert.False(t, ok)

	removed, ok := table.remove(first)
	require.True(t, ok)
	assert.Equal(t, "a", removed)
	_, ok = table.remove(first)
	assert.False(t, ok)

	// Handles are not reused after removal.
	assert.Equal(t, uint64(3), table.add("c"))
	assert.Equal(t, 2, table.len())
}

func TestHandleTableConcurrentAdds(t *testing.T) {
	table := newHandleTable[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.add(i*100 + j)
			}
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	table.each(func(id uint64, _ int) {
		seen[id] = true
	})
	assert.Len(t, seen, 800)
	assert.False(t, seen[0])
}

func TestLockPoolSafeCallReturnsError(t *testing.T) {
	pool := NewVulkanLockPool()
	assert.NoError(t, pool.SafeCall(BufferManagement, func() error { return nil }))
	assert.ErrorIs(t, pool.SafeCall(BufferManagement, func() error { return core.ErrUnknown }), core.ErrUnknown)

	// A queue family nobody registered still gets a mutex.
	assert.NoError(t, pool.SafeQueueCall(7, func() error { return nil }))

	// Nested calls on different groups must not deadlock.
	err := pool.SafeCall(PipelineManagement, func() error {
		return pool.SafeCall(DescriptorManagement, func() error { return nil })
	})
	assert.NoError(t, err)
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError("vkQueueSubmit", vk.Success))
	assert.True(t, VulkanResultIsSuccess(vk.Incomplete))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorDeviceLost))

	err := resultError("vkQueueSubmit", vk.ErrorDeviceLost)
	require.ErrorIs(t, err, core.ErrDeviceCall)
	var callErr *core.DeviceCallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "vkQueueSubmit", callErr.Call)
	assert.Equal(t, int32(vk.ErrorDeviceLost), callErr.Result)
	assert.Equal(t, "handles_test.go", callErr.File)
}

func TestVulkanSafeString(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
}

func spirvHeader(words ...uint32) []byte {
	code := make([]byte, 0, 4*(5+len(words)))
	for _, w := range append([]uint32{spirvMagic, 0x00010500, 0, 16, 0}, words...) {
		code = binary.LittleEndian.AppendUint32(code, w)
	}
	return code
}

func TestSPIRVWords(t *testing.T) {
	words, err := SPIRVWords(spirvHeader(0xDEADBEEF))
	require.NoError(t, err)
	require.Len(t, words, 6)
	assert.Equal(t, spirvMagic, words[0])
	assert.Equal(t, uint32(0xDEADBEEF), words[5])

	_, err = SPIRVWords(spirvHeader()[:18])
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	bad := spirvHeader()
	bad[0] = 0
	_, err = SPIRVWords(bad)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestLoadShaderModuleMissingFile(t *testing.T) {
	_, c := newTestContext(t)
	_, err := c.LoadShaderModule(t.TempDir() + "/missing.rgen.spv")
	assert.Error(t, err)
	assert.Zero(t, c.shaderModules.len())
}
