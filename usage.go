package dawn

import "github.com/gogpu/gputypes"

const (
	writableBufferUsage  = gputypes.BufferUsageStorage
	writableTextureUsage = gputypes.TextureUsageStorageBinding | gputypes.TextureUsageRenderAttachment
)

// passUsage accumulates the usage of every resource touched in one pass.
// Resources are kept in first-use order so the transitions emitted at the
// end of the pass are deterministic.
type passUsage struct {
	buffers  map[*Buffer]gputypes.BufferUsage
	textures map[*Texture]gputypes.TextureUsage
	bufOrder []*Buffer
	texOrder []*Texture
}

func (u *passUsage) addBuffer(b *Buffer, usage gputypes.BufferUsage) {
	if u.buffers == nil {
		u.buffers = make(map[*Buffer]gputypes.BufferUsage)
	}
	if _, ok := u.buffers[b]; !ok {
		u.bufOrder = append(u.bufOrder, b)
	}
	u.buffers[b] |= usage
}

func (u *passUsage) addTexture(t *Texture, usage gputypes.TextureUsage) {
	if u.textures == nil {
		u.textures = make(map[*Texture]gputypes.TextureUsage)
	}
	if _, ok := u.textures[t]; !ok {
		u.texOrder = append(u.texOrder, t)
	}
	u.textures[t] |= usage
}

func (u *passUsage) addBindGroup(g *BindGroup) {
	for _, bu := range g.bufUses {
		u.addBuffer(bu.buffer, bu.usage)
	}
	for _, tu := range g.texUses {
		u.addTexture(tu.texture, tu.usage)
	}
}

// validate rejects resources used writably together with any other usage
// in the same pass.
func (u *passUsage) validate() error {
	for _, b := range u.bufOrder {
		usage := u.buffers[b]
		if usage&writableBufferUsage != 0 && usage&^writableBufferUsage != 0 {
			return validationErrorf("buffer %q used as writable usage and another usage in the same pass", b.Label())
		}
	}
	for _, t := range u.texOrder {
		usage := u.textures[t]
		if usage&writableTextureUsage != 0 && usage != gputypes.TextureUsageStorageBinding &&
			usage != gputypes.TextureUsageRenderAttachment {
			return validationErrorf("texture %q used as writable usage and another usage in the same pass", t.Label())
		}
	}
	return nil
}

// usageTracker follows the usage each resource will have at each point of
// one encoder's stream, starting from the resource's current usage when
// the encoder first touches it.
type usageTracker struct {
	buffers  map[*Buffer]gputypes.BufferUsage
	textures map[*Texture]gputypes.TextureUsage

	transitionedBuffers  []*Buffer
	transitionedTextures []*Texture
}

func (t *usageTracker) bufferUsage(b *Buffer) gputypes.BufferUsage {
	if u, ok := t.buffers[b]; ok {
		return u
	}
	return b.Usage()
}

func (t *usageTracker) textureUsage(tex *Texture) gputypes.TextureUsage {
	if u, ok := t.textures[tex]; ok {
		return u
	}
	return tex.Usage()
}

// needBuffer checks that b can be used as usage and reports whether a
// transition has to be recorded.
func (t *usageTracker) needBuffer(b *Buffer, usage gputypes.BufferUsage) (bool, error) {
	if usage&^b.AllowedUsage() != 0 {
		return false, validationErrorf("buffer %q lacks usage %v", b.Label(), usage)
	}
	cur := t.bufferUsage(b)
	if cur == usage {
		return false, nil
	}
	if b.IsFrozen() {
		if cur&usage == usage {
			return false, nil
		}
		return false, validationErrorf("buffer %q is frozen and cannot transition to %v", b.Label(), usage)
	}
	return true, nil
}

func (t *usageTracker) needTexture(tex *Texture, usage gputypes.TextureUsage) (bool, error) {
	if usage&^tex.AllowedUsage() != 0 {
		return false, validationErrorf("texture %q lacks usage %v", tex.Label(), usage)
	}
	cur := t.textureUsage(tex)
	if cur == usage {
		return false, nil
	}
	if tex.IsFrozen() {
		if cur&usage == usage {
			return false, nil
		}
		return false, validationErrorf("texture %q is frozen and cannot transition to %v", tex.Label(), usage)
	}
	return true, nil
}

func (t *usageTracker) setBuffer(b *Buffer, usage gputypes.BufferUsage) {
	if t.buffers == nil {
		t.buffers = make(map[*Buffer]gputypes.BufferUsage)
	}
	if _, ok := t.buffers[b]; !ok {
		t.transitionedBuffers = append(t.transitionedBuffers, b)
	}
	t.buffers[b] = usage
}

func (t *usageTracker) setTexture(tex *Texture, usage gputypes.TextureUsage) {
	if t.textures == nil {
		t.textures = make(map[*Texture]gputypes.TextureUsage)
	}
	if _, ok := t.textures[tex]; !ok {
		t.transitionedTextures = append(t.transitionedTextures, tex)
	}
	t.textures[tex] = usage
}
