// Package repository provides a generic typed repository over a Bun handle
// for CRUD operations, querying, pagination, transactions, and dialect aware
// upsert support.
package repository
