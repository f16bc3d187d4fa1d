package classifier

import "testing"

func TestCache_PutGet(t *testing.T) {
	c := NewCache(10)
	result := ActivityInfo{Type: TypeCoding, Confidence: 0.8}
	c.Put("some output", result)

	got, ok := c.Get("some output")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Type != TypeCoding {
		t.Errorf("expected coding, got: %s", got.Type)
	}
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := NewCache(10)
	if _, ok := c.Get("never stored"); ok {
		t.Error("expected miss")
	}
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	c := NewCache(4)
	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), ActivityInfo{Type: TypeIdle})
	}
	if c.Len() > 4 {
		t.Errorf("expected len <= capacity 4, got: %d", c.Len())
	}
}

func TestDigest_ClipsLongText(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	d := digest(string(long))
	if len(d) >= 500 {
		t.Errorf("expected clipped digest, got length %d", len(d))
	}
}
