package partition

import (
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/partalloc/pages"
	"github.com/vkngwrapper/partalloc/pages/mocks"
	"go.uber.org/mock/gomock"
)

// readyDelegatingProvider returns a mock that forwards every call to the host OS. Tests override
// individual methods to inject failures.
func readyDelegatingProvider(t *testing.T, ctrl *gomock.Controller) *mocks.MockProvider {
	system, err := pages.NewSystem(testLogger())
	require.NoError(t, err)

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().AllocPages(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(system.AllocPages).AnyTimes()
	provider.EXPECT().FreePages(gomock.Any(), gomock.Any()).DoAndReturn(system.FreePages).AnyTimes()
	provider.EXPECT().SetSystemPagesInaccessible(gomock.Any(), gomock.Any()).DoAndReturn(system.SetSystemPagesInaccessible).AnyTimes()
	provider.EXPECT().SetSystemPagesAccessible(gomock.Any(), gomock.Any()).DoAndReturn(system.SetSystemPagesAccessible).AnyTimes()
	provider.EXPECT().DecommitSystemPages(gomock.Any(), gomock.Any()).DoAndReturn(system.DecommitSystemPages).AnyTimes()

	return provider
}

func TestSuperPageReservationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().AllocPages(gomock.Any(), SuperPageSize, SuperPageSize, pages.PageAccessible).
		Return(unsafe.Pointer(nil), pages.ErrOutOfAddressSpace).Times(2)

	hookCalls := 0
	root := NewGenericRoot(NewRuntime(testLogger(), provider), CreateOptions{
		OOMHook: func() { hookCalls++ },
	})

	ptr, err := root.AllocFlags(AllocReturnNull, 64)
	require.Nil(t, ptr)
	require.True(t, errors.Is(err, ErrOutOfMemory))
	require.True(t, errors.Is(err, pages.ErrOutOfAddressSpace))
	require.Zero(t, hookCalls)

	requireCrash(t, ErrOutOfMemory, func() {
		root.Alloc(64)
	})
	require.Equal(t, 1, hookCalls)

	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestDirectMapFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().AllocPages(uintptr(0), gomock.Any(), SuperPageSize, pages.PageAccessible).
		Return(unsafe.Pointer(nil), pages.ErrOutOfAddressSpace).Times(2)

	hookCalls := 0
	root := NewGenericRoot(NewRuntime(testLogger(), provider), CreateOptions{
		OOMHook: func() { hookCalls++ },
	})

	ptr, err := root.AllocFlags(AllocReturnNull, 4<<20)
	require.Nil(t, ptr)
	require.True(t, errors.Is(err, ErrOutOfMemory))

	requireCrash(t, ErrOutOfMemory, func() {
		root.Alloc(4 << 20)
	})
	require.Equal(t, 1, hookCalls)

	require.Zero(t, root.directMaps.count)
	require.NoError(t, root.Shutdown())
}

func TestPartitionFull(t *testing.T) {
	ctrl := gomock.NewController(t)

	// No provider calls are expected once the root has hit its reservation limit
	provider := mocks.NewMockProvider(ctrl)

	hookCalls := 0
	root, err := NewSizeSpecificRoot(NewRuntime(testLogger(), provider), 1024, CreateOptions{
		OOMHook: func() { hookCalls++ },
	})
	require.NoError(t, err)
	root.totalSizeOfSuperPages = MaxPartitionSize

	ptr, err := root.AllocFlags(AllocReturnNull, 64)
	require.Nil(t, ptr)
	require.True(t, errors.Is(err, ErrPartitionFull))

	requireCrash(t, ErrPartitionFull, func() {
		root.Alloc(64)
	})
	require.Zero(t, hookCalls)

	root.totalSizeOfSuperPages = 0
	require.NoError(t, root.Shutdown())
}

func TestRecommitFailureCrashes(t *testing.T) {
	ctrl := gomock.NewController(t)

	provider := readyDelegatingProvider(t, ctrl)
	provider.EXPECT().RecommitSystemPages(gomock.Any(), gomock.Any()).Return(errors.New("no memory")).Times(1)

	hookCalls := 0
	root := NewGenericRoot(NewRuntime(testLogger(), provider), CreateOptions{
		OOMHook: func() { hookCalls++ },
	})

	ptr := root.Alloc(4096)
	root.Free(ptr)
	root.PurgeMemory(PurgeDecommitEmptyPages)

	// Recommitting a span cannot be refused, even with AllocReturnNull
	requireCrash(t, ErrOutOfMemory, func() {
		root.AllocFlags(AllocReturnNull, 4096)
	})
	require.Equal(t, 1, hookCalls)

	require.NoError(t, root.Shutdown())
}

func TestDelegatingProviderServesAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)

	provider := readyDelegatingProvider(t, ctrl)
	provider.EXPECT().RecommitSystemPages(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	root := NewGenericRoot(NewRuntime(testLogger(), provider), CreateOptions{})

	small := root.Alloc(100)
	large := root.Alloc(3 << 20)
	fillBytes(small, 100, 1)
	fillBytes(large, 3<<20, 2)

	page := root.pointerToPage(ptrSlot(small))
	require.Equal(t, 1, page.numAllocatedSlots)

	root.Free(small)
	root.Free(large)
	root.PurgeMemory(PurgeDecommitEmptyPages)
	require.Equal(t, pageStateDecommitted, page.state)

	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}
