package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E100-E109)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "No pages.json, pages.yaml or pages.yml was found for this project.",
		DocURL:   "https://vango.dev/docs/pages/errors/E100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The site configuration could not be parsed.",
		DocURL:   "https://vango.dev/docs/pages/errors/E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid site configuration",
		Detail:   "The site configuration has invalid values.",
		DocURL:   "https://vango.dev/docs/pages/errors/E102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Failed to write config file",
		DocURL:   "https://vango.dev/docs/pages/errors/E103",
	},

	// ============================================
	// Compile Errors (E110-E119)
	// ============================================

	"E110": {
		Category: CategoryCompile,
		Message:  "Build failed",
		Detail:   "The bundler reported errors.",
		DocURL:   "https://vango.dev/docs/pages/errors/E110",
	},
	"E111": {
		Category: CategoryCompile,
		Message:  "Bundler setup failed",
		Detail:   "The bundler could not be configured for this project.",
		DocURL:   "https://vango.dev/docs/pages/errors/E111",
	},
	"E112": {
		Category: CategoryCompile,
		Message:  "Failed to write build artifacts",
		DocURL:   "https://vango.dev/docs/pages/errors/E112",
	},

	// ============================================
	// Prerender Errors (E120-E129)
	// ============================================

	"E120": {
		Category: CategoryPrerender,
		Message:  "Page enumeration failed",
		Detail:   "The compiled server entry failed to produce the page set.",
		DocURL:   "https://vango.dev/docs/pages/errors/E120",
	},
	"E121": {
		Category: CategoryPrerender,
		Message:  "Failed to write page",
		DocURL:   "https://vango.dev/docs/pages/errors/E121",
	},
	"E122": {
		Category: CategoryPrerender,
		Message:  "Invalid page list",
		Detail:   "The server entry printed output that is not a valid page list.",
		DocURL:   "https://vango.dev/docs/pages/errors/E122",
	},

	// ============================================
	// Serve Errors (E130-E139)
	// ============================================

	"E130": {
		Category: CategoryServe,
		Message:  "Failed to start server",
		DocURL:   "https://vango.dev/docs/pages/errors/E130",
	},

	// ============================================
	// Deploy Errors (E140-E149)
	// ============================================

	"E140": {
		Category: CategoryDeploy,
		Message:  "Deploy failed",
		DocURL:   "https://vango.dev/docs/pages/errors/E140",
	},
	"E141": {
		Category: CategoryDeploy,
		Message:  "Git repository not found",
		Detail:   "Deploying to a branch requires the project to live in a git repository with an origin remote.",
		DocURL:   "https://vango.dev/docs/pages/errors/E141",
	},
	"E142": {
		Category: CategoryDeploy,
		Message:  "Upload failed",
		DocURL:   "https://vango.dev/docs/pages/errors/E142",
	},

	// ============================================
	// CLI Errors (E150-E159)
	// ============================================

	"E150": {
		Category: CategoryCLI,
		Message:  "Entry file not found",
		Detail:   "The entry module passed on the command line does not exist.",
		DocURL:   "https://vango.dev/docs/pages/errors/E150",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
