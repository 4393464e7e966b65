// Package cf computes counterfactual ecological-quality scores.
//
// Each site is compared with the median indicator of the sites that share
// its pedoclimatic context (the concatenation of one or more classifier
// columns) under a fixed reference land use:
//
//	reference = median(indicator | land use = reference, context = site context)
//	relative  = indicator / reference
//	cf        = 1 - relative
//
// Missing references and zero references do not fail the run; they surface
// as NaN in the results so that summaries can skip them.
package cf
