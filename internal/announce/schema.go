package announce

// DefaultType is the service type the registry announces itself as.
const DefaultType = "DiscoveryService"

// File is the yaml describing this registry instance.
//
//	name: discovery-eu-1
//	region: eu-west-1
//	stage: prod
//	version: ${DISCOVERY_VERSION}
//	docsPath: /docs
type File struct {
	Name             string `yaml:"name"`
	Type             string `yaml:"type"`
	HealthCheckRoute string `yaml:"healthCheckRoute"`
	SchemaRoute      string `yaml:"schemaRoute"`
	DocsPath         string `yaml:"docsPath"`
	Region           string `yaml:"region"`
	Stage            string `yaml:"stage"`
	Version          string `yaml:"version"`
}

func (f File) withDefaults() File {
	if f.Type == "" {
		f.Type = DefaultType
	}
	if f.HealthCheckRoute == "" {
		f.HealthCheckRoute = "/healthz"
	}
	return f
}
