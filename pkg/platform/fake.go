package platform

import "context"

// Fake is an in-memory Platform for tests and for hosts without the
// platform installed.
type Fake struct {
	Ver     string
	Scripts string
	Plugins string
	Dist    string
	Caps    map[string]Capability
}

func (f *Fake) Version(context.Context) (string, error)   { return f.Ver, nil }
func (f *Fake) ScriptDir(context.Context) (string, error) { return f.Scripts, nil }
func (f *Fake) PluginDir(context.Context) (string, error) { return f.Plugins, nil }
func (f *Fake) ZeekDist(context.Context) (string, error)  { return f.Dist, nil }

func (f *Fake) Capabilities(context.Context) (map[string]Capability, error) {
	if f.Caps == nil {
		return map[string]Capability{}, nil
	}
	return f.Caps, nil
}
