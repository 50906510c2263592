// Package firacp implements the FiRa Connector BLE Out-of-Band transport.
//
// FiRa OOB discovery lets two devices find each other over Bluetooth Low
// Energy, negotiate connector capabilities, and exchange FiRa Connector
// Messages addressed to Secure Component IDs (SECIDs) before UWB ranging
// starts. This package provides the transport layer of FiRa BLE OOB v1.0:
// the discovery-advertisement and capabilities codecs, the data-packet
// fragmentation engine, and the connector endpoints for both GATT roles.
//
// The package does not talk to a radio by itself. Advertising, scanning
// and GATT traffic go through the Advertiser, Scanner, GattClient and
// GattServer interfaces; the tinygoble subpackage binds them to
// tinygo.org/x/bluetooth. Bring your own implementation for other stacks.
//
// A central builds a ConnectorClient around a GattClient session:
//
//	client := firacp.NewConnectorClient(session, callback,
//		firacp.WithCapabilities(caps))
//	client.Start()
//	client.SendMessage(secid, msg)
//
// A peripheral hosts the Connector Primary service with a ConnectorServer.
// The client re-posts every stack event onto a private serial executor.
// The server re-posts only central connect and disconnect edges there;
// it serves GATT reads and writes on the stack thread that calls its
// handlers. Both endpoints guard their state with a mutex and fire user
// callbacks outside it.
package firacp
