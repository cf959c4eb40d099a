package metrics

import "strings"

const namespace = "tutorrag"

// MetricName prefixes name with the service namespace unless it already carries it.
func MetricName(name string) string {
	if strings.HasPrefix(name, namespace+"_") {
		return name
	}
	return namespace + "_" + name
}

// MetricNameWithSubsystem builds namespace_subsystem_name.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	if name == "" {
		return MetricName(subsystem)
	}
	if subsystem == "" {
		return MetricName(name)
	}
	return MetricName(subsystem + "_" + name)
}
