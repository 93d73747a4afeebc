package genome

import "fmt"

func errVariantRegions(ref, alt Allele) error {
	return fmt.Errorf("variant alleles span different regions: %s vs %s", ref.Region, alt.Region)
}

func errVariantIdentical(ref Allele) error {
	return fmt.Errorf("variant alleles are identical at %s", ref.Region)
}
