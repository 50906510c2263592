// Package tinygoble binds the firacp BLE seams to tinygo.org/x/bluetooth.
//
// The binding covers both roles: Advertiser and Scanner over the
// adapter's GAP surface, GattClient over a central connection, and
// GattServer over the local GATT database.
//
// Two stack limitations leak through and are documented on the affected
// types: the peripheral side cannot observe CCCD writes or characteristic
// reads, so the server backend synthesizes the notification-enable edge
// on central connect and advances the outbound pipeline on notification
// completion instead of on read.
package tinygoble
