// Package config defines the configuration tree a keel daemon owns: the
// runtime section (pools and execution streams), loaded libraries, admitted
// providers and clients, ABT-IO instances and SSG groups.
//
// The tree itself is a passive document. It performs structural validation
// (name uniqueness, pool references) but no locking; the service manager
// serializes all access.
package config
