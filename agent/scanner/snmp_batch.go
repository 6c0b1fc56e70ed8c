package scanner

import (
	"context"
	"fmt"
	"slices"

	"github.com/gosnmp/gosnmp"
)

// defaultOIDBatchSize is the number of OIDs per GET request.
const defaultOIDBatchSize = 3

// clusterOIDs splits oids into request-sized groups, preserving order.
func clusterOIDs(oids []string, size int) [][]string {
	if size <= 0 {
		size = defaultOIDBatchSize
	}
	var groups [][]string
	for chunk := range slices.Chunk(oids, size) {
		groups = append(groups, slices.Clone(chunk))
	}
	return groups
}

// batchedGet fetches OIDs in clusters, limiting each PDU to batchSize
// entries. A failed batch is retried one OID at a time because SNMPv1
// agents reject a whole request when a single OID is unknown.
func batchedGet(ctx context.Context, client SNMPClient, oids []string, batchSize int) ([]gosnmp.SnmpPDU, error) {
	var (
		pdus    []gosnmp.SnmpPDU
		lastErr error
	)
	get := func(group []string) error {
		packet, err := client.Get(group)
		if err != nil {
			return err
		}
		if packet != nil {
			pdus = append(pdus, packet.Variables...)
		}
		return nil
	}

	for _, group := range clusterOIDs(oids, batchSize) {
		if err := ctx.Err(); err != nil {
			return pdus, err
		}
		err := get(group)
		if err == nil {
			continue
		}
		lastErr = fmt.Errorf("snmp get %s (+%d): %w", group[0], len(group)-1, err)
		if len(group) > 1 {
			for _, oid := range group {
				_ = get([]string{oid})
			}
		}
	}
	if len(pdus) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return pdus, nil
}
