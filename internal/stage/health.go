package stage

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// DirHealth reports a stage unhealthy when any of the named directories is
// missing or not a directory.
func DirHealth(name string, dirs ...string) Health {
	for _, dir := range dirs {
		if detail := checkDir(dir); detail != "" {
			return Unhealthy(name, detail)
		}
	}
	return Healthy(name)
}
