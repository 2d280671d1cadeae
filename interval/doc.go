/*Package interval implements the genomic regions accepted by the bshap
  commands: "chr,start,end" strings and BED files.

  A Region is strict: it selects the 1-based positions p with
  Start < p < End. A BED interval [s, e) therefore becomes Region{chr, s, e+1}.
*/
package interval
