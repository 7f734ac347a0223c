// Package habuild contains the identifier model shared by every stage of
// the build orchestrator: parsing and ordering of build, package and
// artifact identifiers, and dependency-pattern matching against them.
package habuild
