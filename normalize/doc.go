// Package normalize converts raw supplier records into canonical part quotes.
//
// Normalization has three steps:
//   - mapping: each canonical field is read from the first source key that
//     carries it, using the supplier's [supplier.FieldMapping] before the
//     built-in spellings
//   - coercion: currency strings become decimals, free-text dates and unix
//     timestamps become UTC times, "1,000 pcs" becomes 1000
//   - deduplication: at most one record per [Key]; the most recently
//     observed value wins, and on equal timestamps the later raw record wins
//
// Records that cannot be coerced are dropped and counted by reason. The
// output is sorted by key, so normalizing the same input twice yields the
// same records.
package normalize
