package overlay

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/overlay/shadercache"
)

// CompileFlags adjust program compilation. The flag bits participate in the
// cache key, so the same source compiled with different flags yields distinct
// cache entries.
type CompileFlags uint32

const (
	// CompileDebug embeds debug information where the backend supports it.
	CompileDebug CompileFlags = 1 << iota

	// CompileSkipValidation skips module validation after lowering.
	CompileSkipValidation
)

// Profiles name the compiler backend and its target version.
const (
	ProfileSPIRV13 = "spirv_1_3"
	ProfileHLSL50  = "hlsl_5_0"
	ProfileHLSL51  = "hlsl_5_1"
	ProfileHLSL60  = "hlsl_6_0"
	ProfileMSL21   = "msl_2_1"
	ProfileGLSL330 = "glsl_330"
)

// maxDiagnosticLen bounds the diagnostic text handed back to callers.
// Compiler output beyond it is truncated with a trailing ellipsis.
const maxDiagnosticLen = 1024

// CompileProgram compiles WGSL source for the given entry point and profile.
// On success it returns the program binary and an empty diagnostic; on failure
// it returns nil and the compiler diagnostic. Identical source/entry/profile/
// flags combinations are served from the program cache without running the
// compiler again. New results enter the cache only while the manager's own
// initialization runs; caller compiles after that are not persisted.
func (m *Manager) CompileProgram(source, entry, profile string, flags CompileFlags) ([]byte, string) {
	hash := shadercache.Hash(source, entry, profile, uint32(flags))
	if blob, ok := m.cache.Lookup(hash); ok {
		return blob, ""
	}

	blob, diag := m.compileFn(source, entry, profile, flags)
	if blob == nil {
		diag = truncateDiagnostic(diag)
		Logger().Warn("program compile failed",
			"entry", entry, "profile", profile, "diagnostic", diag)
		return nil, diag
	}

	if m.caching {
		m.cache.Insert(hash, blob)
	}
	return blob, ""
}

func truncateDiagnostic(diag string) string {
	if len(diag) <= maxDiagnosticLen {
		return diag
	}
	return diag[:maxDiagnosticLen] + "..."
}

// compileWGSL runs the naga pipeline: parse, lower, validate, then the
// backend named by the profile. An unknown profile is a per-call failure,
// not a panic; the manager's init path turns it into a fatal error.
func compileWGSL(source, entry, profile string, flags CompileFlags) ([]byte, string) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Sprintf("parse: %v", err)
	}

	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Sprintf("lower: %v", err)
	}

	if flags&CompileSkipValidation == 0 {
		findings, err := naga.Validate(module)
		if err != nil {
			return nil, fmt.Sprintf("validate: %v", err)
		}
		if len(findings) > 0 {
			return nil, fmt.Sprintf("validate: %v", &findings[0])
		}
	}

	switch profile {
	case ProfileSPIRV13:
		out, err := naga.GenerateSPIRV(module, spirv.Options{
			Version: spirv.Version1_3,
			Debug:   flags&CompileDebug != 0,
		})
		if err != nil {
			return nil, fmt.Sprintf("spirv: %v", err)
		}
		return out, ""

	case ProfileHLSL50, ProfileHLSL51, ProfileHLSL60:
		opts := hlsl.DefaultOptions()
		opts.EntryPoint = entry
		switch profile {
		case ProfileHLSL50:
			opts.ShaderModel = hlsl.ShaderModel5_0
		case ProfileHLSL51:
			opts.ShaderModel = hlsl.ShaderModel5_1
		default:
			opts.ShaderModel = hlsl.ShaderModel6_0
		}
		out, _, err := hlsl.Compile(module, opts)
		if err != nil {
			return nil, fmt.Sprintf("hlsl: %v", err)
		}
		return []byte(out), ""

	case ProfileMSL21:
		out, _, err := msl.Compile(module, msl.Options{LangVersion: msl.Version2_1})
		if err != nil {
			return nil, fmt.Sprintf("msl: %v", err)
		}
		return []byte(out), ""

	case ProfileGLSL330:
		out, _, err := glsl.Compile(module, glsl.Options{
			LangVersion: glsl.Version330,
			EntryPoint:  entry,
		})
		if err != nil {
			return nil, fmt.Sprintf("glsl: %v", err)
		}
		return []byte(out), ""

	default:
		return nil, fmt.Sprintf("unknown profile %q", profile)
	}
}
