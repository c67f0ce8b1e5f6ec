package config

import "testing"

func envFunc(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDeriveFromEnv(t *testing.T) {
	d := DeriveFromEnv(envFunc(map[string]string{
		"XDG_RUNTIME_DIR": "/run/user/1000",
		"HOME":            "/home/cam",
	}))

	if len(d.Binds) != 2 {
		t.Fatalf("expected 2 binds, got %v", d.Binds)
	}
	if got := d.Binds[0].String(); got != "/run/user/1000/pulse/native:/run/pulse/native" {
		t.Errorf("audio bind = %q", got)
	}
	if got := d.Binds[1].String(); got != "/home/cam/.config/camster/credentials.json:/app/credentials.json:ro" {
		t.Errorf("credential bind = %q", got)
	}
	if d.Env["PULSE_SERVER"] != "unix:/run/pulse/native" {
		t.Errorf("PULSE_SERVER = %q", d.Env["PULSE_SERVER"])
	}
	if len(d.Skipped) != 0 {
		t.Errorf("unexpected skipped mounts: %v", d.Skipped)
	}
	for _, b := range d.Binds {
		if b.Optional {
			t.Errorf("bind %s must be required", b.String())
		}
	}
}

func TestDeriveFromEnvPrefersXDGConfigHome(t *testing.T) {
	d := DeriveFromEnv(envFunc(map[string]string{
		"XDG_CONFIG_HOME": "/etc/xdg-cam",
		"HOME":            "/home/cam",
	}))

	if len(d.Binds) != 1 {
		t.Fatalf("expected only the credential bind, got %v", d.Binds)
	}
	if d.Binds[0].Source != "/etc/xdg-cam/camster/credentials.json" {
		t.Errorf("credential source = %q", d.Binds[0].Source)
	}
	if len(d.Skipped) != 1 {
		t.Errorf("expected the audio socket to be skipped, got %v", d.Skipped)
	}
	if _, ok := d.Env["PULSE_SERVER"]; ok {
		t.Error("PULSE_SERVER must not be set without an audio socket")
	}
}

func TestDeriveFromEnvEmpty(t *testing.T) {
	d := DeriveFromEnv(envFunc(nil))
	if len(d.Binds) != 0 {
		t.Errorf("expected no binds, got %v", d.Binds)
	}
	if len(d.Skipped) != 2 {
		t.Errorf("expected 2 skipped mounts, got %v", d.Skipped)
	}
}

func TestExpandBind(t *testing.T) {
	getenv := envFunc(map[string]string{"MEDIA": "/srv/media"})

	b, ok := ExpandBind(Bind{Source: "${MEDIA}/clips", Target: "/app/clips"}, getenv)
	if !ok {
		t.Fatal("expected expansion to succeed")
	}
	if b.Source != "/srv/media/clips" {
		t.Errorf("Source = %q", b.Source)
	}

	if _, ok := ExpandBind(Bind{Source: "${UNSET}/x", Target: "/x"}, getenv); ok {
		t.Error("expected expansion of an unset variable to report false")
	}
}

func TestPassthrough(t *testing.T) {
	environ := []string{
		"TZ=Europe/Berlin",
		"LANG=en_US.UTF-8",
		"DOCKER_HOST=tcp://evil:2375",
		"AWS_SECRET_ACCESS_KEY=shh",
		"EMPTY=",
	}

	got := Passthrough([]string{"TZ", "DOCKER_HOST", "AWS_SECRET_ACCESS_KEY", "MISSING", "EMPTY"}, environ)

	if got["TZ"] != "Europe/Berlin" {
		t.Errorf("TZ = %q", got["TZ"])
	}
	if _, ok := got["LANG"]; ok {
		t.Error("LANG was not requested and must not be forwarded")
	}
	for _, blocked := range []string{"DOCKER_HOST", "AWS_SECRET_ACCESS_KEY"} {
		if _, ok := got[blocked]; ok {
			t.Errorf("blocklisted variable %s was forwarded", blocked)
		}
	}
	if _, ok := got["MISSING"]; ok {
		t.Error("unset variable was forwarded")
	}
	if v, ok := got["EMPTY"]; !ok || v != "" {
		t.Error("set-but-empty variable should be forwarded as empty")
	}
}
