// Package contract holds live tests against a running inference backend and a
// running bottle-monitor service. They skip unless the targets are reachable;
// see BACKEND_BASE_URL and MONITOR_BASE_URL.
package contract
