// sqlp is the execution layer for queryp builders.
//   - Consistent and minimal "single path" APIs taking a queryp.Builder.
//   - Explicit Executor and Provider capabilities rather than ambient, context stored state.
//   - Transactions with savepoint scopes, and serializable transactions retried with backoff.
//   - Generic struct mapping scanning support to avoid reflection.
package sqlp
