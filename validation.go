package dawn

import (
	"math"

	"github.com/gogpu/gputypes"
)

// texelBlockSize returns the bytes per texel of copyable formats.
func texelBlockSize(f gputypes.TextureFormat) (uint32, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1, true
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatR32Float:
		return 4, true
	case gputypes.TextureFormatRGBA16Float:
		return 8, true
	case gputypes.TextureFormatRGBA32Float:
		return 16, true
	default:
		return 0, false
	}
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}

// DefaultRowPitch returns the row pitch used when a copy leaves it zero:
// one row of texels rounded up to RowPitchAlignment. The result can exceed
// the range of ImageCopyBuffer.RowPitch for very wide copies.
func DefaultRowPitch(width, texelSize uint32) uint64 {
	return alignUp(uint64(width)*uint64(texelSize), RowPitchAlignment)
}

func validateBufferRange(b *Buffer, offset, size uint64) error {
	if offset > b.Size() || size > b.Size()-offset {
		return validationErrorf("range [%d, +%d) does not fit in buffer %q of %d bytes", offset, size, b.Label(), b.Size())
	}
	return nil
}

func validateTextureRegion(tc *ImageCopyTexture, size gputypes.Extent3D) error {
	t := tc.Texture
	if tc.MipLevel >= t.MipLevelCount() {
		return validationErrorf("mip level %d out of range for texture %q with %d levels", tc.MipLevel, t.Label(), t.MipLevelCount())
	}
	if t.SampleCount() > 1 {
		return validationErrorf("texture %q is multisampled and cannot be copied", t.Label())
	}
	mip := t.MipLevelSize(tc.MipLevel)
	o := tc.Origin
	if uint64(o.X)+uint64(size.Width) > uint64(mip.Width) ||
		uint64(o.Y)+uint64(size.Height) > uint64(mip.Height) ||
		uint64(o.Z)+uint64(size.DepthOrArrayLayers) > uint64(mip.DepthOrArrayLayers) {
		return validationErrorf("copy region does not fit in mip level %d of texture %q", tc.MipLevel, t.Label())
	}
	return nil
}

// resolveBufferLayout fills the default row pitch and image height of a
// buffer/texture copy and checks that the rows fit in the buffer.
func resolveBufferLayout(bc *ImageCopyBuffer, format gputypes.TextureFormat, size gputypes.Extent3D) error {
	texel, ok := texelBlockSize(format)
	if !ok {
		return validationErrorf("format %v cannot be copied", format)
	}
	if bc.Offset%uint64(texel) != 0 {
		return validationErrorf("buffer offset %d is not a multiple of the texel size %d", bc.Offset, texel)
	}
	rowBytes := uint64(size.Width) * uint64(texel)
	if bc.RowPitch == 0 {
		pitch := DefaultRowPitch(size.Width, texel)
		if pitch > math.MaxUint32 {
			return validationErrorf("a row of %d bytes exceeds the maximum row pitch", rowBytes)
		}
		bc.RowPitch = uint32(pitch)
	}
	if bc.RowPitch%RowPitchAlignment != 0 {
		return validationErrorf("row pitch %d is not a multiple of %d", bc.RowPitch, RowPitchAlignment)
	}
	if uint64(bc.RowPitch) < rowBytes {
		return validationErrorf("row pitch %d is smaller than a row of %d bytes", bc.RowPitch, rowBytes)
	}
	if bc.ImageHeight == 0 {
		bc.ImageHeight = size.Height
	}
	if bc.ImageHeight < size.Height {
		return validationErrorf("image height %d is smaller than the copy height %d", bc.ImageHeight, size.Height)
	}
	if size.Width == 0 || size.Height == 0 || size.DepthOrArrayLayers == 0 {
		return nil
	}
	rows := uint64(bc.ImageHeight)*uint64(size.DepthOrArrayLayers-1) + uint64(size.Height-1)
	required := uint64(bc.RowPitch)*rows + rowBytes
	return validateBufferRange(bc.Buffer, bc.Offset, required)
}
