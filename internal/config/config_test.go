package config

import "testing"

func TestDefault_PassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed Validate(): %v", err)
	}
}

func TestValidate_RejectsEmptyHost(t *testing.T) {
	c := Default()
	c.Engine.Host = ""
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with empty host should fail")
	}
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	c := Default()
	c.Engine.Port = 70000
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with port > 65535 should fail")
	}
	c.Engine.Port = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should fail")
	}
}

func TestValidate_RejectsNonPositiveCutoff(t *testing.T) {
	c := Default()
	c.Poller.HighFrequencyCutoffMs = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with HighFrequencyCutoffMs 0 should fail")
	}
}

func TestValidate_RejectsNegativeMaxRetries(t *testing.T) {
	c := Default()
	c.Adapter.MaxRetries = -1
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with negative MaxRetries should fail")
	}
}

func TestValidate_RejectsSubOneBackoff(t *testing.T) {
	c := Default()
	c.Adapter.RetryBackoff = 0.5
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with RetryBackoff < 1 should fail")
	}
}

func TestValidate_RejectsNonPositiveStringMaxLength(t *testing.T) {
	c := Default()
	c.Validation.StringMaxLength = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with StringMaxLength 0 should fail")
	}
}

func TestValidate_RejectsNonPositiveRingCapacity(t *testing.T) {
	c := Default()
	c.Cache.RingCapacity = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with RingCapacity 0 should fail")
	}
}

func TestValidate_RejectsNegativeMaxMemory(t *testing.T) {
	c := Default()
	c.Cache.MaxMemoryMB = -1
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() with negative MaxMemoryMB should fail")
	}
}

func TestAdapterConfig_RetryDelay(t *testing.T) {
	a := AdapterConfig{RetryDelayMs: 1500}
	if got := a.RetryDelay(); got.Milliseconds() != 1500 {
		t.Fatalf("RetryDelay() = %v, want 1500ms", got)
	}
}

func TestCacheConfig_LimitBytes(t *testing.T) {
	c := CacheConfig{MaxMemoryMB: 10}
	if got := c.LimitBytes(); got != 10*1024*1024 {
		t.Fatalf("LimitBytes() = %d, want %d", got, 10*1024*1024)
	}
	if got := (CacheConfig{}).LimitBytes(); got != 0 {
		t.Fatalf("LimitBytes() with MaxMemoryMB=0 = %d, want 0 (budget disabled)", got)
	}
}
