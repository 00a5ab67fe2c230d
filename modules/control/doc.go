// Package control changes the active filter from outside the web viewer.
//
// Two surfaces are provided:
//
//   - MQTTHandler: JSON commands on a control topic (set_filter, get_filter,
//     list_filters, get_status), answered on a response topic.
//   - WatchConfig: follows the config file on disk and applies a changed
//     filter.default to the selector.
//
// Both only write the filter.Selector; the frame pipeline picks the new value
// up on its next frame.
package control
