// Package al owns the shared data model of the active-learning query
// strategy: detection records produced by the inference runner, the
// selection policy built from caller parameters, and the error kinds a
// query round can fail with.
//
// Responsibilities: record validation, rule selection, parameter
// validation.
//
// Dependency rule: al depends on nothing inside this module. The
// sub-packages (entropy, extract, aggregate, rank, pool, strategy) may
// depend on al but never on each other in reverse of the pipeline order.
package al
