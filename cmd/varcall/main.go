package main

/*
varcall is a germline/somatic/trio/cell variant caller core: given a reference
genome, aligned reads and candidate variants, it runs Bayesian inference over
genotypes per calling window and emits VCF records in genome order.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/assign"
	"github.com/grailbio/varcall/bed"
	"github.com/grailbio/varcall/caller"
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/haplogen"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
	"github.com/grailbio/varcall/runner"
	"github.com/grailbio/varcall/vcf"
)

var (
	callerName = flag.String("caller", "individual", "Caller to run: individual, population, trio, cancer, or cell")
	refPath    = flag.String("reference", "", "Reference FASTA path (required)")
	readsPath  = flag.String("reads", "", "Aligned reads dump path (required)")
	candPath   = flag.String("candidates", "", "Candidate variants path (required)")
	outPath    = flag.String("out", "-", "Output VCF path; '-' for stdout, .gz for compressed")
	bedPath    = flag.String("bed", "", "Restrict calling to BED regions")

	samplesFlag = flag.String("samples", "", "Comma-separated sample names; defaults to samples seen in the reads")
	normalsFlag = flag.String("normal-samples", "", "Comma-separated normal samples (cancer/cell callers)")
	motherFlag  = flag.String("mother", "", "Mother sample (trio caller)")
	fatherFlag  = flag.String("father", "", "Father sample (trio caller)")
	childFlag   = flag.String("child", "", "Child sample (trio caller)")

	ploidy        = flag.Int("ploidy", 2, "Genotype ploidy")
	ploidyMap     = flag.String("contig-ploidies", "", "Per-contig ploidy overrides, e.g. chrX=1,chrY=1")
	minVarPost    = flag.Float64("min-variant-posterior", 2, "Variant emission threshold (Phred)")
	minRefPost    = flag.Float64("min-refcall-posterior", 2, "Reference block emission threshold (Phred)")
	refCalls      = flag.Bool("refcalls", false, "Emit reference blocks")
	maxHaplotypes = flag.Int("max-haplotypes", 200, "Haplotype enumeration cap per window")
	maxGenotypes  = flag.Int("max-genotypes", 10000, "Genotype enumeration cap")
	maxJoint      = flag.Int("max-joint-genotypes", 1000000, "Joint genotype cap (trio caller)")
	maxClones     = flag.Int("max-clones", 3, "Clone count bound (cell caller)")
	maxVBSeeds    = flag.Int("max-vb-seeds", 12, "Variational restart bound (cancer/cell callers)")
	dropoutConc   = flag.Float64("dropout-concentration", 100, "Allele dropout Beta concentration (cell caller)")
	mutationRate  = flag.Float64("mutation-rate", 1e-8, "Single-generation mutation rate")
	snvHet        = flag.Float64("snv-heterozygosity", 0.001, "Coalescent SNV heterozygosity")
	indelHet      = flag.Float64("indel-heterozygosity", 0.0001, "Coalescent indel heterozygosity")
	maxDepth      = flag.Int("max-depth", 1000, "Per-position read depth cap; 0 disables downsampling")
	readBufBytes  = flag.Int("target-read-buffer-size", 0, "Bytes of read sequence buffered per window; 0 disables the bound")
	dedupPrior    = flag.Bool("deduplicate-haplotypes-with-prior-model", false, "Resolve duplicate haplotypes with the coalescent prior instead of plain sequence dedup")
	ambigAction   = flag.String("ambiguous-action", "first", "Assignment of ambiguous reads: first, all, random, or drop")
	ambigRecord   = flag.String("ambiguous-record", "read_only", "Ambiguous record detail: read_only, haplotypes, or haplotypes_if_three_or_more_options")

	threads       = flag.Int("threads", 0, "Worker count; 0 = runtime.NumCPU()")
	windowSize    = flag.Int("window-size", runner.DefaultWindowSize, "Calling window size")
	windowTimeout = flag.Duration("window-timeout", 0, "Per-window wall-clock budget; 0 disables")
)

func main() {
	log.SetFlags(0)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -reference ref.fa -reads reads.tsv -candidates cands.tsv [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if err := run(); err != nil {
		log.Error.Printf("%v", err)
		os.Exit(int(runner.Classify(err)))
	}
}

func run() error {
	if *refPath == "" || *readsPath == "" || *candPath == "" {
		return &runner.ConfigError{Err: errors.New("-reference, -reads and -candidates are required")}
	}

	ref, err := loadReference(*refPath)
	if err != nil {
		return err
	}
	allReads, err := loadReads(*readsPath)
	if err != nil {
		return err
	}
	candidates, err := loadCandidates(*candPath)
	if err != nil {
		return err
	}

	samples := splitList(*samplesFlag)
	if len(samples) == 0 {
		seen := make(map[string]bool)
		for _, r := range allReads {
			if !seen[r.Sample] {
				seen[r.Sample] = true
				samples = append(samples, r.Sample)
			}
		}
	}
	if len(samples) == 0 {
		return &runner.ConfigError{Err: errors.New("no samples in reads and none given with -samples")}
	}
	if _, err := contigPloidy(*ploidyMap, "", *ploidy); err != nil {
		return &runner.ConfigError{Err: err}
	}

	var restrict []genome.Region
	if *bedPath != "" {
		f, err := os.Open(*bedPath)
		if err != nil {
			return &runner.InputError{Err: err}
		}
		restrict, err = bed.Load(f)
		closeErr := f.Close()
		if err != nil {
			return &runner.InputError{Err: err}
		}
		if closeErr != nil {
			return &runner.InputError{Err: closeErr}
		}
	}

	manager := reads.NewSliceManager(allReads)
	factory, err := makeFactory(ref, manager, candidates, samples)
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outPath != "-" {
		f, err := os.Create(*outPath)
		if err != nil {
			return &runner.OutputError{Err: err}
		}
		defer func() {
			if e := f.Close(); e != nil {
				log.Error.Printf("closing output: %v", e)
			}
		}()
		out = f
	}
	var contigs []vcf.Contig
	var contigRegions []genome.Region
	for _, name := range ref.Contigs() {
		size, err := ref.ContigSize(name)
		if err != nil {
			return &runner.InputError{Err: err}
		}
		contigs = append(contigs, vcf.Contig{Name: name, Length: size})
		contigRegions = append(contigRegions, genome.Region{Contig: name, Begin: 0, End: size})
	}
	writer, err := vcf.NewWriter(out, samples, vcf.WriterOpts{
		Gzip:    strings.HasSuffix(*outPath, ".gz"),
		Source:  "varcall",
		Contigs: contigs,
	})
	if err != nil {
		return &runner.OutputError{Err: err}
	}

	nThreads := *threads
	if nThreads <= 0 {
		nThreads = runtime.NumCPU()
	}
	windows := runner.Windows(contigRegions, restrict, *windowSize)
	log.Printf("calling %d windows over %d contigs (%d workers)", len(windows), len(contigs), nThreads)
	err = runner.Run(context.Background(), factory, windows, runner.Opts{
		Threads:       nThreads,
		WindowSize:    *windowSize,
		WindowTimeout: *windowTimeout,
	}, writer)
	if err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return &runner.OutputError{Err: err}
	}
	return nil
}

func loadReference(path string) (reference.Genome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &runner.InputError{Err: err}
	}
	defer f.Close() // nolint: errcheck
	ref, err := reference.NewFromFASTA(f)
	if err != nil {
		return nil, &runner.InputError{Err: err}
	}
	return ref, nil
}

func loadReads(path string) ([]*reads.AlignedRead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &runner.InputError{Err: err}
	}
	defer f.Close() // nolint: errcheck
	rs, err := parseReads(f)
	if err != nil {
		return nil, &runner.InputError{Err: err}
	}
	return rs, nil
}

func loadCandidates(path string) ([]genome.Variant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &runner.InputError{Err: err}
	}
	defer f.Close() // nolint: errcheck
	vs, err := parseCandidates(f)
	if err != nil {
		return nil, &runner.InputError{Err: err}
	}
	return vs, nil
}

// makeFactory binds the selected caller's parameters once; the factory then
// mints one caller per worker.
func makeFactory(ref reference.Genome, manager reads.Manager, candidates []genome.Variant,
	samples []string) (runner.PipelineFactory, error) {
	coalescent := prior.CoalescentParams{
		SNVHeterozygosity:   *snvHet,
		IndelHeterozygosity: *indelHet,
	}
	mutation := prior.DeNovoParams{MutationRate: *mutationRate}
	minVar := logprob.Phred(*minVarPost)
	minRef := logprob.Phred(*minRefPost)
	normals := splitList(*normalsFlag)

	newCaller := func(contig string) (caller.Caller, error) {
		contigPloidyN, err := contigPloidy(*ploidyMap, contig, *ploidy)
		if err != nil {
			return nil, err
		}
		switch *callerName {
		case "individual":
			if len(samples) != 1 {
				return nil, errors.Errorf("individual caller wants exactly one sample, got %d", len(samples))
			}
			return caller.NewIndividualCaller(caller.IndividualParams{
				Sample: samples[0], Ploidy: contigPloidyN,
				Coalescent:                coalescent,
				MinVariantPosterior:       minVar,
				MinRefCallPosterior:       minRef,
				MaxGenotypes:              *maxGenotypes,
				DeduplicateWithPriorModel: *dedupPrior,
			})
		case "population":
			return caller.NewPopulationCaller(caller.PopulationParams{
				Samples: samples, Ploidy: contigPloidyN,
				Coalescent:                coalescent,
				MinVariantPosterior:       minVar,
				MinRefCallPosterior:       minRef,
				MaxGenotypes:              *maxGenotypes,
				DeduplicateWithPriorModel: *dedupPrior,
			})
		case "trio":
			return caller.NewTrioCaller(caller.TrioParams{
				Mother: *motherFlag, Father: *fatherFlag, Child: *childFlag,
				Ploidy:                    contigPloidyN,
				Coalescent:                coalescent,
				Mutation:                  mutation,
				MinVariantPosterior:       minVar,
				MinRefCallPosterior:       minRef,
				MinDenovoPosterior:        minVar,
				MaxGenotypes:              *maxGenotypes,
				MaxJointGenotypes:         *maxJoint,
				DeduplicateWithPriorModel: *dedupPrior,
			})
		case "cancer":
			return caller.NewCancerCaller(caller.CancerParams{
				Samples: samples, NormalSamples: normals, Ploidy: contigPloidyN,
				Coalescent:                coalescent,
				Mutation:                  mutation,
				MinVariantPosterior:       minVar,
				MinRefCallPosterior:       minRef,
				MinSomaticPosterior:       minVar,
				MaxGenotypes:              *maxGenotypes,
				MaxVBSeeds:                *maxVBSeeds,
				DeduplicateWithPriorModel: *dedupPrior,
			})
		case "cell":
			return caller.NewCellCaller(caller.CellParams{
				Samples: samples, NormalSamples: normals, Ploidy: contigPloidyN,
				Coalescent:                coalescent,
				Mutation:                  mutation,
				MaxClones:                 *maxClones,
				MaxVBSeeds:                *maxVBSeeds,
				DropoutConcentration:      *dropoutConc,
				MinVariantPosterior:       minVar,
				MinRefCallPosterior:       minRef,
				MaxGenotypes:              *maxGenotypes,
				DeduplicateWithPriorModel: *dedupPrior,
			})
		default:
			return nil, errors.Errorf("unknown caller %q", *callerName)
		}
	}
	// Validate the configuration up front so bad options fail at startup.
	if _, err := newCaller(""); err != nil {
		return nil, &runner.ConfigError{Err: err}
	}
	assignment, err := parseAssignmentConfig(*ambigAction, *ambigRecord)
	if err != nil {
		return nil, &runner.ConfigError{Err: err}
	}
	return func(contig string) (*caller.Pipeline, error) {
		c, err := newCaller(contig)
		if err != nil {
			return nil, err
		}
		return caller.NewPipeline(caller.Components{
			Reference:  ref,
			Reads:      manager,
			Generators: []haplogen.Generator{&haplogen.SliceGenerator{Variants: candidates}},
			Caller:     c,
			Samples:    samples,
		}, caller.Params{
			MaxHaplotypes:        *maxHaplotypes,
			MaxDepth:             *maxDepth,
			TargetReadBufferSize: *readBufBytes,
			RefCalls:             *refCalls,
			MinBaseQual:          10,
			HMM:                  hmm.DefaultConfig,
			Assignment:           assignment,
		})
	}, nil
}

// parseAssignmentConfig resolves the ambiguous-read flags.
func parseAssignmentConfig(action, record string) (assign.Config, error) {
	var out assign.Config
	switch action {
	case "first":
		out.AmbiguousAction = assign.AmbiguousFirst
	case "all":
		out.AmbiguousAction = assign.AmbiguousAll
	case "random":
		out.AmbiguousAction = assign.AmbiguousRandom
	case "drop":
		out.AmbiguousAction = assign.AmbiguousDrop
	default:
		return out, errors.Errorf("unknown ambiguous action %q", action)
	}
	switch record {
	case "read_only":
		out.AmbiguousRecord = assign.RecordReadOnly
	case "haplotypes":
		out.AmbiguousRecord = assign.RecordHaplotypes
	case "haplotypes_if_three_or_more_options":
		out.AmbiguousRecord = assign.RecordHaplotypesIfThreeOrMore
	default:
		return out, errors.Errorf("unknown ambiguous record mode %q", record)
	}
	return out, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// contigPloidy resolves per-contig ploidy overrides of the form
// "chrX=1,chrY=1".
func contigPloidy(overrides, contig string, base int) (int, error) {
	if overrides == "" {
		return base, nil
	}
	for _, part := range strings.Split(overrides, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return 0, errors.Errorf("bad contig ploidy override %q", part)
		}
		n := 0
		if _, err := fmt.Sscanf(kv[1], "%d", &n); err != nil || n <= 0 {
			return 0, errors.Errorf("bad ploidy in override %q", part)
		}
		if kv[0] == contig {
			return n, nil
		}
	}
	return base, nil
}
