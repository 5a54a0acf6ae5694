// Package models contains the GORM persistence models for companies, purchase
// orders, batches, batch transactions and gap actions. Domain types carry no
// ORM tags; each model converts with ToDomain / FromDomain.
package models
