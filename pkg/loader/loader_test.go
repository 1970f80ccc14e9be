package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/image"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/lfsr"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/soc"
)

//go:generate mockgen -destination mock_debug_test.go -package $GOPACKAGE -write_package_comment=false github.com/OpenTraceLab/OpenTraceSoC/pkg/debug Transport

func testImage() *image.Image {
	return &image.Image{
		Format: "elf",
		Sections: []image.Section{
			{Name: ".text", Address: 0x80, Data: []byte{0x13, 0x00, 0x00, 0x00, 0x6f, 0x00, 0x00, 0x00}},
			{Name: ".data", Address: 0x20000, Data: []byte{1, 2, 3}},
		},
		Entry: 0x80,
	}
}

func TestLoadOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	img := testImage()
	ctx := context.Background()

	gomock.InOrder(
		tr.EXPECT().WriteMemory(ctx, uint64(0x80), img.Sections[0].Data).Return(nil),
		tr.EXPECT().WriteMemory(ctx, uint64(0x20000), img.Sections[1].Data).Return(nil),
		tr.EXPECT().WriteRegister(ctx, debug.RegPC, uint32(0x80)).Return(nil),
	)

	entry, err := Load(ctx, tr, img)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80), entry)
}

func TestLoadPropagatesWithoutRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	img := testImage()

	tr.EXPECT().WriteMemory(gomock.Any(), uint64(0x80), gomock.Any()).Return(debug.ErrLinkTimeout).Times(1)

	_, err := Load(context.Background(), tr, img)
	require.Error(t, err)
	assert.True(t, debug.IsLinkTimeout(err))
	assert.Contains(t, err.Error(), "load section .text")
}

func TestLoadEntryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	tr.EXPECT().WriteMemory(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	tr.EXPECT().WriteRegister(gomock.Any(), debug.RegPC, gomock.Any()).Return(debug.ErrProtocolViolation)

	_, err := Load(context.Background(), tr, testImage())
	assert.True(t, debug.IsProtocolViolation(err))
}

func TestLoadRejectsWideEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	img := testImage()
	img.Entry = 1 << 33

	_, err := Load(context.Background(), tr, img)
	assert.Error(t, err)
}

func TestVerifyMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	img := testImage()

	tr.EXPECT().ReadMemory(gomock.Any(), uint64(0x80), 8).Return(img.Sections[0].Data, nil)
	tr.EXPECT().ReadMemory(gomock.Any(), uint64(0x20000), 3).Return([]byte{1, 7, 3}, nil)

	err := Verify(context.Background(), tr, img)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerifyMismatch))
	var ve *VerifyError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ".data", ve.Section)
	assert.Equal(t, uint64(1), ve.Offset)
	assert.Equal(t, byte(2), ve.Want)
	assert.Equal(t, byte(7), ve.Got)
}

func TestVerifyShortRead(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	img := testImage()
	img.Sections = img.Sections[:1]

	tr.EXPECT().ReadMemory(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{0x13, 0}, nil)
	var ve *VerifyError
	require.True(t, errors.As(Verify(context.Background(), tr, img), &ve))
	assert.Equal(t, uint64(2), ve.Offset)
}

func TestMemoryTestDetectsCorruption(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	var written []byte
	tr.EXPECT().WriteMemory(gomock.Any(), uint64(0x100), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uint64, data []byte) error {
			written = append([]byte(nil), data...)
			return nil
		})
	tr.EXPECT().ReadMemory(gomock.Any(), uint64(0x100), 16).DoAndReturn(
		func(context.Context, uint64, int) ([]byte, error) {
			out := append([]byte(nil), written...)
			out[9] ^= 0x80
			return out, nil
		})

	res, err := MemoryTest(context.Background(), tr, 0x100, 4, lfsr.New(lfsr.DefaultSeed))
	require.NoError(t, err)
	assert.True(t, res.MismatchFound)
	assert.Equal(t, uint32(8), res.Offset)
	assert.Equal(t, 3, res.Compared)
	assert.Equal(t, uint32(0x57ddff59), res.SourceValue)
	assert.Equal(t, uint32(0x57dd7f59), res.DestValue)
}

func newSession(t *testing.T) (*soc.SoC, *debug.Session) {
	t.Helper()
	target, err := soc.New(soc.Config{})
	require.NoError(t, err)
	t.Cleanup(target.Shutdown)

	s := debug.NewSession(target.Adapter(), debug.Config{ChunkSize: 32})
	ctx := context.Background()
	require.NoError(t, s.ResetMaster(ctx))
	require.NoError(t, s.InitLink(ctx))
	return target, s
}

func TestLoadVerifyOnTarget(t *testing.T) {
	target, s := newSession(t)
	ctx := context.Background()

	text := make([]byte, 200)
	for i := range text {
		text[i] = byte(255 - i)
	}
	img := &image.Image{
		Sections: []image.Section{
			{Name: ".text", Address: 0x80, Data: text},
			{Name: ".data", Address: 0x20001, Data: []byte{9, 8, 7, 6, 5}},
		},
		Entry: 0x80,
	}
	entry, err := Load(ctx, s, img)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80), entry)
	require.NoError(t, Verify(ctx, s, img))

	pc, err := s.ReadRegister(ctx, debug.RegPC)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80), pc)

	require.NoError(t, target.Bus().WriteWord(0x80, 0))
	err = Verify(ctx, s, img)
	assert.True(t, errors.Is(err, ErrVerifyMismatch))
}

func TestMemoryTestOnTarget(t *testing.T) {
	_, s := newSession(t)
	res, err := MemoryTest(context.Background(), s, 0x1000, 64, lfsr.New(lfsr.DefaultSeed))
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, 64, res.Compared)
}
